package pgtable

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/todosync/internal/remote"
	"github.com/mschirtzinger/todosync/internal/remote/remotetest"
)

// openTestTable connects to TEST_PG_DATABASE_URL and empties the table.
func openTestTable(t *testing.T) *Table {
	t.Helper()
	url := os.Getenv("TEST_PG_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_PG_DATABASE_URL not set")
	}

	table, err := Open(context.Background(), url)
	require.NoError(t, err, "failed to connect")
	t.Cleanup(table.Close)

	_, err = table.pool.Exec(context.Background(), `TRUNCATE items`)
	require.NoError(t, err, "failed to truncate items")
	return table
}

func TestTable_Contract(t *testing.T) {
	(&remotetest.ServiceTest{}).Run(t, func(t *testing.T) remote.Service {
		return openTestTable(t)
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	url := os.Getenv("TEST_PG_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_PG_DATABASE_URL not set")
	}
	require.NoError(t, Migrate(url))
	require.NoError(t, Migrate(url))
}
