package storage

import (
	"context"
	"encoding/binary"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
)

// An AdvisoryLock is a postgres advisory lock. Postgres releases it when the session that
// holds it ends, the application decides what it protects.
type AdvisoryLock int64

// SponsorLock is the lock held on behalf of a sponsor account. Daemons sponsoring from
// different accounts may share a database, two daemons using the same account may not.
func SponsorLock(sponsor types.Address) AdvisoryLock {
	return AdvisoryLock(binary.BigEndian.Uint64(sponsor[:8]))
}

// TryLock acquires the lock for the session of db without waiting.
func (l AdvisoryLock) TryLock(ctx context.Context, db orm.DB) error {
	ok, err := l.call(ctx, db, "pg_try_advisory_lock")
	if err != nil {
		return err
	}
	if !ok {
		return xerrors.Errorf("advisory lock %d is held by another session", int64(l))
	}
	return nil
}

func (l AdvisoryLock) Unlock(ctx context.Context, db orm.DB) error {
	ok, err := l.call(ctx, db, "pg_advisory_unlock")
	if err != nil {
		return err
	}
	if !ok {
		return xerrors.Errorf("advisory lock %d was not held", int64(l))
	}
	return nil
}

func (l AdvisoryLock) call(ctx context.Context, db orm.DB, fn string) (bool, error) {
	var res bool
	if _, err := db.QueryOneContext(ctx, pg.Scan(&res), "SELECT "+fn+"(?)", int64(l)); err != nil {
		return false, xerrors.Errorf("%s: %w", fn, err)
	}
	return res, nil
}
