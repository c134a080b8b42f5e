package storage

import (
	"context"

	"github.com/iota-community/sponsored-transactions-demo/model"
)

var _ model.Storage = (*NullStorage)(nil)

// NullStorage discards every record. It is used when no audit storage is configured, so
// funding guards start empty after a restart.
type NullStorage struct{}

func (*NullStorage) PersistBatch(ctx context.Context, ps ...model.Persistable) error {
	log.Debugw("discarding records", "count", len(ps))
	return nil
}

// FundedRecipients always returns nothing since nothing was kept.
func (*NullStorage) FundedRecipients(context.Context) ([]string, error) {
	return nil, nil
}
