package storage

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-community/sponsored-transactions-demo/config"
	"github.com/iota-community/sponsored-transactions-demo/keys"
	"github.com/iota-community/sponsored-transactions-demo/model"
	"github.com/iota-community/sponsored-transactions-demo/testutil"
)

func fundingRequest(recipient string) *model.FundingRequest {
	return &model.FundingRequest{
		Recipient:   recipient,
		Coin:        "0x1",
		Outcome:     "funded",
		RequestedAt: testutil.KnownTime,
		DurationMs:  1200,
	}
}

func TestMemStorage(t *testing.T) {
	ctx := context.Background()
	st := NewMemStorage()

	err := st.PersistBatch(ctx,
		fundingRequest("0xabc"),
		model.Batch{fundingRequest("0xdef"), nil},
		&model.SponsoredTransaction{ReservationID: 1, State: "settled"},
	)
	require.NoError(t, err)

	assert.Len(t, st.Rows("funding_requests"), 2)
	assert.Len(t, st.Rows("sponsored_transactions"), 1)

	recipients, err := st.FundedRecipients(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"0xabc", "0xdef"}, recipients)
}

func TestMemStorageRejectsScalars(t *testing.T) {
	st := NewMemStorage()
	assert.ErrorIs(t, st.PersistModel(context.Background(), 7), ErrMarshalUnsupportedType)
}

func readCSV(t *testing.T, path string) [][]string {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() // nolint: errcheck
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestCSVStorageAppends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st, err := NewCSVStorage(dir, false)
	require.NoError(t, err)

	require.NoError(t, st.PersistBatch(ctx, fundingRequest("0xabc")))
	require.NoError(t, st.PersistBatch(ctx, fundingRequest("0xdef")))

	records := readCSV(t, filepath.Join(dir, "funding_requests.csv"))
	require.Len(t, records, 3)

	header := records[0]
	col := -1
	for i, name := range header {
		if name == "recipient" {
			col = i
		}
	}
	require.NotEqual(t, -1, col, "recipient column missing from %v", header)
	assert.Equal(t, "0xabc", records[1][col])
	assert.Equal(t, "0xdef", records[2][col])
}

func TestCSVStorageFormatsValues(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st, err := NewCSVStorage(dir, true)
	require.NoError(t, err)

	closed := testutil.KnownTime.Add(time.Minute)
	require.NoError(t, st.PersistBatch(ctx, &model.SponsoredTransaction{
		ReservationID: 9,
		Sponsor:       "0xabc",
		State:         "released",
		Coins:         []string{"0x1", "0x2"},
		CreatedAt:     testutil.KnownTime,
		ClosedAt:      closed,
	}))

	records := readCSV(t, filepath.Join(dir, "sponsored_transactions.csv"))
	require.Len(t, records, 1)
	row := records[0]
	assert.Contains(t, row, `["0x1","0x2"]`)
	assert.Contains(t, row, closed.Format(PostgresTimestampFormat))
	assert.Contains(t, row, "9")
}

func TestCSVStorageNeedsDirectory(t *testing.T) {
	_, err := NewCSVStorage(filepath.Join(t.TempDir(), "missing"), false)
	assert.Error(t, err)
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c, err := NewCatalog(config.StorageConf{
		File: map[string]config.FileStorageConf{
			"CSV": {Format: "csv", Path: dir},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"CSV"}, c.Names())

	st, err := c.Connect(ctx, "CSV")
	require.NoError(t, err)
	assert.IsType(t, &CSVStorage{}, st)

	st, err = c.Connect(ctx, "")
	require.NoError(t, err)
	assert.IsType(t, &NullStorage{}, st)

	st, err = c.Connect(ctx, MemoryStorageName)
	require.NoError(t, err)
	assert.IsType(t, &MemStorage{}, st)

	_, err = c.Connect(ctx, "Database9")
	assert.ErrorIs(t, err, ErrUnknownStorage)
}

func TestCatalogRejectsBadConfig(t *testing.T) {
	_, err := NewCatalog(config.StorageConf{
		File: map[string]config.FileStorageConf{"Parquet": {Format: "parquet", Path: "/tmp"}},
	})
	assert.Error(t, err)

	_, err = NewCatalog(config.StorageConf{
		Postgresql: map[string]config.PgStorageConf{"Same": {}},
		File:       map[string]config.FileStorageConf{"Same": {Format: "CSV", Path: "/tmp"}},
	})
	assert.Error(t, err)
}

func TestDatabasePersistBatch(t *testing.T) {
	ctx := context.Background()

	db, err := NewDatabase(ctx, testutil.Database(t), 4, "sponsor-test")
	require.NoError(t, err)
	defer db.Close() // nolint: errcheck

	require.NoError(t, db.CreateSchema(ctx))
	_, err = db.DB.ExecContext(ctx, `TRUNCATE TABLE funding_requests`)
	require.NoError(t, err)

	fr := fundingRequest("0xabc")
	require.NoError(t, db.PersistBatch(ctx, fr))
	// duplicates are ignored
	require.NoError(t, db.PersistBatch(ctx, fr))

	recipients, err := db.FundedRecipients(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xabc"}, recipients)
}

func TestDatabaseSponsorLockIsExclusive(t *testing.T) {
	ctx := context.Background()

	db, err := NewDatabase(ctx, testutil.Database(t), 4, "sponsor-test")
	require.NoError(t, err)
	defer db.Close() // nolint: errcheck

	sponsor := testutil.MustKeyPair(t, keys.Ed25519, 1).Address()
	other := testutil.MustKeyPair(t, keys.Ed25519, 2).Address()

	unlock, err := db.LockSponsor(ctx, sponsor)
	require.NoError(t, err)

	_, err = db.LockSponsor(ctx, sponsor)
	assert.Error(t, err)

	// another sponsor account is not blocked
	unlockOther, err := db.LockSponsor(ctx, other)
	require.NoError(t, err)
	require.NoError(t, unlockOther())

	require.NoError(t, unlock())

	unlock, err = db.LockSponsor(ctx, sponsor)
	require.NoError(t, err)
	require.NoError(t, unlock())
}
