package health

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledgersqlite "github.com/iahome/access-gateway/internal/ledger/sqlite"
	"github.com/iahome/access-gateway/internal/testutil"
)

func TestCheckHealthyDatabases(t *testing.T) {
	store, err := ledgersqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer store.Close()

	checker := New(Config{LedgerDB: store.DB()})
	status := checker.Check(context.Background())

	assert.Equal(t, StatusHealthy, status.Status)
	require.Len(t, status.Components, 1)
	assert.Equal(t, "ledger_db", status.Components[0].Name)
	assert.Equal(t, StatusHealthy, status.Components[0].Status)
}

func TestCheckClosedDatabaseIsUnhealthy(t *testing.T) {
	store, err := ledgersqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	db := store.DB()
	require.NoError(t, store.Close())

	checker := New(Config{LedgerDB: db})
	status := checker.Check(context.Background())

	assert.Equal(t, StatusUnhealthy, status.Status)
}

func TestCheckModuleUpstreamReachable(t *testing.T) {
	srv := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := New(Config{ModuleEndpoints: map[string]string{"metube": srv.URL}})
	status := checker.Check(context.Background())

	assert.Equal(t, StatusHealthy, status.Status)
	require.Len(t, status.Components, 1)
	assert.Equal(t, "module_metube", status.Components[0].Name)
}

func TestCheckUnreachableUpstreamOnlyDegrades(t *testing.T) {
	checker := New(Config{
		ModuleEndpoints: map[string]string{"pdf": "http://127.0.0.1:1"},
		HTTPTimeout:     500 * time.Millisecond,
	})
	status := checker.Check(context.Background())

	assert.Equal(t, StatusDegraded, status.Status)
}

func TestGetLastStatusBeforeAnyCheck(t *testing.T) {
	checker := New(Config{})
	assert.Equal(t, StatusHealthy, checker.GetLastStatus().Status)
}
