package storage

import (
	"context"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/config"
	"github.com/iota-community/sponsored-transactions-demo/model"
)

// ErrUnknownStorage is returned when a storage name is not in the catalog.
var ErrUnknownStorage = xerrors.New("unknown storage")

// MemoryStorageName selects an in-memory store that needs no configuration.
const MemoryStorageName = "memory"

// NewCatalog validates the storage configuration and returns a catalog of the storage
// systems it names.
func NewCatalog(cfg config.StorageConf) (*Catalog, error) {
	c := &Catalog{
		pg:   map[string]config.PgStorageConf{},
		file: map[string]config.FileStorageConf{},
	}

	for name, sc := range cfg.Postgresql {
		if _, exists := c.pg[name]; exists {
			return nil, xerrors.Errorf("duplicate storage name: %q", name)
		}
		c.pg[name] = sc
	}

	for name, sc := range cfg.File {
		if _, exists := c.pg[name]; exists {
			return nil, xerrors.Errorf("duplicate storage name: %q", name)
		}
		if !strings.EqualFold(sc.Format, "CSV") {
			return nil, xerrors.Errorf("storage %q: unsupported file format %q", name, sc.Format)
		}
		c.file[name] = sc
	}

	return c, nil
}

// A Catalog holds a list of pre-configured storage systems and can open them when requested.
type Catalog struct {
	pg   map[string]config.PgStorageConf
	file map[string]config.FileStorageConf
}

// Connect opens the named storage. An empty name returns a NullStorage.
func (c *Catalog) Connect(ctx context.Context, name string) (model.Storage, error) {
	if name == "" {
		return &NullStorage{}, nil
	}
	if name == MemoryStorageName {
		return NewMemStorage(), nil
	}

	if sc, ok := c.pg[name]; ok {
		url := sc.URL
		if sc.URLEnv != "" {
			if env, set := os.LookupEnv(sc.URLEnv); set {
				url = env
			}
		}
		db, err := NewDatabase(ctx, url, sc.PoolSize, sc.ApplicationName)
		if err != nil {
			return nil, xerrors.Errorf("connect to storage %q: %w", name, err)
		}
		if err := db.CreateSchema(ctx); err != nil {
			_ = db.Close()
			return nil, xerrors.Errorf("create schema in storage %q: %w", name, err)
		}
		return db, nil
	}

	if sc, ok := c.file[name]; ok {
		path, err := homedir.Expand(sc.Path)
		if err != nil {
			return nil, xerrors.Errorf("expand path of storage %q: %w", name, err)
		}
		return NewCSVStorage(path, false)
	}

	return nil, xerrors.Errorf("%w: %q", ErrUnknownStorage, name)
}

// Names lists the configured storage names.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.pg)+len(c.file))
	for name := range c.pg {
		names = append(names, name)
	}
	for name := range c.file {
		names = append(names, name)
	}
	return names
}
