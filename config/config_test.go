package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfValidates(t *testing.T) {
	require.NoError(t, DefaultConf().Validate())
}

func TestFromReaderOverridesDefaults(t *testing.T) {
	cfg, err := FromReader(strings.NewReader(`
[Faucet]
URL = "http://localhost:9123"
ConfirmationTimeout = "2m"

[Sponsor]
Address = "0xdef"
MaxTTL = "30s"
DefaultTTL = "10s"
`), DefaultConf())
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9123", cfg.Faucet.URL)
	assert.Equal(t, Duration(2*time.Minute), cfg.Faucet.ConfirmationTimeout)
	assert.Equal(t, Duration(time.Second), cfg.Faucet.PollInterval)
	assert.Equal(t, "0xdef", cfg.Sponsor.Address)
	assert.Equal(t, uint64(10_000_000), cfg.Sponsor.GasBudget)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Conf){
		"bad sponsor":      func(c *Conf) { c.Sponsor.Address = "0xnope" },
		"ttl order":        func(c *Conf) { c.Sponsor.DefaultTTL = c.Sponsor.MaxTTL + 1 },
		"zero budget":      func(c *Conf) { c.Sponsor.GasBudget = 0 },
		"unknown storage":  func(c *Conf) { c.Sponsor.Storage = "Nowhere" },
		"bad package":      func(c *Conf) { c.Contract.Package = "" },
		"no content types": func(c *Conf) { c.Contract.ContentTypes = nil },
		"no faucet":        func(c *Conf) { c.Faucet.URL = "" },
		"no sweep":         func(c *Conf) { c.Sponsor.SweepInterval = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConf()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnsureExistsWritesLoadableDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, EnsureExists(path))

	cfg, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConf(), cfg)

	// an existing file is left alone
	require.NoError(t, os.WriteFile(path, []byte("[API]\nListenAddress = \"127.0.0.1:1\"\n"), 0o600))
	require.NoError(t, EnsureExists(path))
	cfg, err = FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1", cfg.API.ListenAddress)
}

func TestFromFileMissing(t *testing.T) {
	cfg, err := FromFile(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConf(), cfg)
}

func TestAuthTokenFromEnv(t *testing.T) {
	cfg := DefaultConf()
	cfg.API.AuthTokenEnv = "SPONSOR_TEST_AUTH_TOKEN"
	cfg.API.AuthToken = "from-config"
	assert.Equal(t, "from-config", cfg.AuthToken())

	t.Setenv("SPONSOR_TEST_AUTH_TOKEN", "from-env")
	assert.Equal(t, "from-env", cfg.AuthToken())
}
