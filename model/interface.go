// Package model holds the records the sponsor writes to its audit storage.
package model

import (
	"context"

	"golang.org/x/xerrors"
)

// Storage is an append-only audit trail of what the sponsor did. Nothing in the service
// reads it back as authoritative state.
type Storage interface {
	PersistBatch(ctx context.Context, ps ...Persistable) error
}

// StorageBatch writes single records within one PersistBatch call. Database storages
// back it with a transaction.
type StorageBatch interface {
	PersistModel(ctx context.Context, m interface{}) error
}

// Persistable is a record, or group of records, that knows how to write itself.
type Persistable interface {
	Persist(ctx context.Context, s StorageBatch) error
}

// Batch is a group of records written together. Nil entries are skipped so callers can
// append optional records unconditionally.
type Batch []Persistable

var _ Persistable = (Batch)(nil)

func (b Batch) Persist(ctx context.Context, s StorageBatch) error {
	for i, p := range b {
		if p == nil {
			continue
		}
		if err := p.Persist(ctx, s); err != nil {
			return xerrors.Errorf("record %d of batch: %w", i, err)
		}
	}
	return nil
}
