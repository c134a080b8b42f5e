package storage

import (
	"context"
	"reflect"
	"strings"
	"sync"

	"github.com/go-pg/pg/v10/orm"
	"github.com/go-pg/pg/v10/types"

	"github.com/iota-community/sponsored-transactions-demo/model"
)

var _ model.Storage = (*MemStorage)(nil)

func NewMemStorage() *MemStorage {
	return &MemStorage{
		Data: map[string][]interface{}{},
	}
}

// MemStorage keeps persisted models in memory, keyed by table name. Used by tests and
// by daemons run without a database.
type MemStorage struct {
	Data   map[string][]interface{}
	DataMu sync.Mutex
}

func (j *MemStorage) PersistModel(ctx context.Context, m interface{}) error {
	value := reflect.ValueOf(m)
	if value.Kind() == reflect.Ptr {
		value = value.Elem()
	}

	switch value.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < value.Len(); i++ {
			if err := j.PersistModel(ctx, value.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
		name := tableName(m)
		j.DataMu.Lock()
		j.Data[name] = append(j.Data[name], m)
		j.DataMu.Unlock()
		return nil
	default:
		return ErrMarshalUnsupportedType
	}
}

func (j *MemStorage) PersistBatch(ctx context.Context, ps ...model.Persistable) error {
	for _, p := range ps {
		if err := p.Persist(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

// Rows returns a copy of the models persisted to table.
func (j *MemStorage) Rows(table string) []interface{} {
	j.DataMu.Lock()
	defer j.DataMu.Unlock()
	return append([]interface{}{}, j.Data[table]...)
}

// FundedRecipients lists recipients with a persisted funding request.
func (j *MemStorage) FundedRecipients(ctx context.Context) ([]string, error) {
	var out []string
	for _, r := range j.Rows("funding_requests") {
		if fr, ok := r.(*model.FundingRequest); ok {
			out = append(out, fr.Recipient)
		}
	}
	return out, nil
}

// tableName returns the unquoted table name go-pg derives for the model held in m.
func tableName(m interface{}) string {
	q := orm.NewQuery(nil, m)
	return stripQuotes(q.TableModel().Table().SQLNameForSelects)
}

func stripQuotes(s types.Safe) string {
	return strings.Trim(string(s), `"`)
}
