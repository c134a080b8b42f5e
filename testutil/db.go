package testutil

import (
	"os"
	"testing"
)

// TestDatabaseEnv names the variable holding the url of a postgres database that tests
// may write to.
const TestDatabaseEnv = "SPONSOR_TEST_DB"

// Database returns the url of the test database. The test is skipped when no database is
// configured or only short tests were requested.
func Database(t testing.TB) string {
	t.Helper()
	url := os.Getenv(TestDatabaseEnv)
	if url == "" || testing.Short() {
		t.Skipf("short testing requested or %s not set", TestDatabaseEnv)
	}
	return url
}
