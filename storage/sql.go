package storage

import (
	"context"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/metrics"
	"github.com/iota-community/sponsored-transactions-demo/model"
)

var log = logging.Logger("sponsor/storage")

var _ model.Storage = (*Database)(nil)

// NewDatabase connects to the postgres database at url.
func NewDatabase(ctx context.Context, url string, poolSize int, name string) (*Database, error) {
	opt, err := pg.ParseURL(url)
	if err != nil {
		return nil, xerrors.Errorf("parse database URL: %w", err)
	}
	if poolSize > 0 {
		opt.PoolSize = poolSize
	}
	if name != "" {
		opt.ApplicationName = name
	}

	db := pg.Connect(opt)
	// Check if connection credentials are valid and PostgreSQL is up and running.
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("ping database: %w", err)
	}

	return &Database{DB: db}, nil
}

type Database struct {
	DB *pg.DB
}

// CreateSchema creates the tables of every registered model that does not exist yet.
func (d *Database) CreateSchema(ctx context.Context) error {
	for _, m := range model.Models {
		if err := d.DB.ModelContext(ctx, m).CreateTable(&orm.CreateTableOptions{
			IfNotExists: true,
		}); err != nil {
			return xerrors.Errorf("creating table for %T: %w", m, err)
		}
	}
	return nil
}

// LockSponsor takes the SponsorLock of sponsor on a dedicated connection, since advisory
// locks belong to a session. The returned function releases the lock and the connection.
func (d *Database) LockSponsor(ctx context.Context, sponsor types.Address) (func() error, error) {
	lock := SponsorLock(sponsor)
	conn := d.DB.Conn()
	if err := lock.TryLock(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, xerrors.Errorf("lock sponsor %s: %w", sponsor, err)
	}
	return func() error {
		err := lock.Unlock(context.Background(), conn)
		if cerr := conn.Close(); err == nil {
			err = cerr
		}
		return err
	}, nil
}

func (d *Database) Close() error {
	return d.DB.Close()
}

// PersistBatch persists all models in a single transaction. Rows that already exist are
// left untouched.
func (d *Database) PersistBatch(ctx context.Context, ps ...model.Persistable) error {
	err := d.DB.RunInTransaction(ctx, func(tx *pg.Tx) error {
		b := &TxStorage{tx: tx}
		for _, p := range ps {
			if err := p.Persist(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.RecordInc(ctx, metrics.PersistFailure)
		return xerrors.Errorf("persist batch: %w", err)
	}
	return nil
}

// FundedRecipients lists every recipient the faucet was asked to fund, so the funding
// guard can be restored after a restart.
func (d *Database) FundedRecipients(ctx context.Context) ([]string, error) {
	var recipients []string
	if err := d.DB.ModelContext(ctx, (*model.FundingRequest)(nil)).
		ColumnExpr("DISTINCT recipient").
		Select(&recipients); err != nil {
		return nil, xerrors.Errorf("select funded recipients: %w", err)
	}
	return recipients, nil
}

// TxStorage persists models inside a database transaction.
type TxStorage struct {
	tx *pg.Tx
}

func (s *TxStorage) PersistModel(ctx context.Context, m interface{}) error {
	if _, err := s.tx.ModelContext(ctx, m).OnConflict("DO NOTHING").Insert(); err != nil {
		log.Errorw("failed to persist model", "model", tableName(m), "error", err)
		return xerrors.Errorf("persisting %s: %w", tableName(m), err)
	}
	return nil
}
