package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/go-pg/pg/v10/orm"

	"github.com/iota-community/sponsored-transactions-demo/model"
)

const PostgresTimestampFormat = "2006-01-02T15:04:05.999Z07:00"

var ErrMarshalUnsupportedType = errors.New("cannot marshal unsupported type")

var (
	// Cache of model schemas for csv storage
	csvModelTablesMu sync.Mutex
	csvModelTables   = map[string]table{}
)

// A table is a list of columns and corresponding field names in the Go struct
type table struct {
	name    string
	columns []string
	fields  []string
	types   []string
}

func getCSVModelTable(v interface{}) table {
	q := orm.NewQuery(nil, v)
	m := q.TableModel().Table()
	name := stripQuotes(m.SQLNameForSelects)

	csvModelTablesMu.Lock()
	defer csvModelTablesMu.Unlock()

	t, ok := csvModelTables[name]
	if ok {
		return t
	}

	t.name = name
	for _, fld := range m.Fields {
		t.columns = append(t.columns, fld.SQLName)
		t.fields = append(t.fields, fld.GoName)
		t.types = append(t.types, fld.SQLType)
	}
	csvModelTables[name] = t
	return t
}

var _ model.Storage = (*CSVStorage)(nil)

// CSVStorage appends models to one csv file per table in a directory.
type CSVStorage struct {
	path       string
	omitHeader bool
	mu         sync.Mutex
}

func NewCSVStorage(path string, omitHeader bool) (*CSVStorage, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("csv storage path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("csv storage path %q is not a directory", path)
	}
	return &CSVStorage{path: path, omitHeader: omitHeader}, nil
}

// PersistBatch persists a batch of models to CSV, creating new files if they don't already exist otherwise appending
// to existing ones.
func (c *CSVStorage) PersistBatch(ctx context.Context, ps ...model.Persistable) error {
	batch := &CSVBatch{data: map[string][][]string{}}
	for _, p := range ps {
		if err := p.Persist(ctx, batch); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for name, rows := range batch.data {
		if len(rows) == 0 {
			continue
		}
		if err := c.appendRows(name, rows); err != nil {
			return err
		}
	}
	return nil
}

func (c *CSVStorage) appendRows(name string, rows [][]string) error {
	filename := filepath.Join(c.path, name+".csv")

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	created := err == nil
	if err != nil {
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create file %q: %w", filename, err)
		}
		f, err = os.OpenFile(filename, os.O_APPEND|os.O_RDWR, 0o644)
		if err != nil {
			return fmt.Errorf("open file %q: %w", filename, err)
		}
	}
	defer f.Close() // nolint: errcheck

	w := csv.NewWriter(f)
	if created && !c.omitHeader {
		t := csvTableByName(name)
		if err := w.Write(t.columns); err != nil {
			return fmt.Errorf("write csv headers to %q: %w", filename, err)
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv data to %q: %w", filename, err)
	}
	if err := f.Sync(); err != nil {
		log.Errorw("failed to sync csv file", "error", err, "filename", filename)
	}
	return nil
}

func csvTableByName(name string) table {
	csvModelTablesMu.Lock()
	defer csvModelTablesMu.Unlock()
	return csvModelTables[name]
}

type CSVBatch struct {
	data map[string][][]string
}

func (c *CSVBatch) PersistModel(ctx context.Context, m interface{}) error {
	value := reflect.ValueOf(m)
	if value.Kind() == reflect.Ptr {
		value = value.Elem()
	}

	switch value.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < value.Len(); i++ {
			if err := c.PersistModel(ctx, value.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
		t := getCSVModelTable(m)

		row := make([]string, len(t.fields))
		for i, f := range t.fields {
			fv := value.FieldByName(f)
			fk := fv.Kind()
			if (fk == reflect.Slice || fk == reflect.Map || fk == reflect.Ptr || fk == reflect.Interface) && fv.IsNil() {
				row[i] = "NULL"
				continue
			}

			ft := fv.Type()
			if ft.PkgPath() == "time" && ft.Name() == "Time" {
				row[i] = fv.Interface().(time.Time).Format(PostgresTimestampFormat)
				continue
			}

			if fk == reflect.Slice || fk == reflect.Map || fk == reflect.Interface {
				v, err := json.Marshal(fv.Interface())
				if err != nil {
					return err
				}
				row[i] = string(v)
				continue
			}

			row[i] = fmt.Sprint(fv)
		}
		c.data[t.name] = append(c.data[t.name], row)
		return nil
	default:
		return ErrMarshalUnsupportedType
	}
}
