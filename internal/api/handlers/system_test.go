package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndewijer/market-data-cache/internal/database"
	"github.com/ndewijer/market-data-cache/internal/model"
	"github.com/ndewijer/market-data-cache/internal/testutil"
)

func newSystemHandler(t *testing.T) (*SystemHandler, *database.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	return NewSystemHandler(testutil.NewTestSystemService(t, db)), db
}

// TestSystemHandler_Health tests the liveness endpoint.
//
// WHY: orchestrators rely on the 503 to drain an instance whose cache store
// has gone away.
func TestSystemHandler_Health(t *testing.T) {
	t.Run("reachable store reports healthy", func(t *testing.T) {
		handler, _ := newSystemHandler(t)
		w := httptest.NewRecorder()

		handler.Health(w, httptest.NewRequest(http.MethodGet, "/api/system/health", nil))

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var body StoreStatus
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "healthy", body.Status)
		assert.Equal(t, "reachable", body.Store)
		assert.Empty(t, body.Error)
	})

	t.Run("closed store reports 503", func(t *testing.T) {
		handler, db := newSystemHandler(t)
		db.Close()
		w := httptest.NewRecorder()

		handler.Health(w, httptest.NewRequest(http.MethodGet, "/api/system/health", nil))

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		var body StoreStatus
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "unreachable", body.Store)
		assert.NotEmpty(t, body.Error)
	})
}

// TestSystemHandler_Version tests the build and schema metadata endpoint.
//
// WHY: operators read migration_needed to decide whether init-store must run
// before the scheduler is enabled.
func TestSystemHandler_Version(t *testing.T) {
	t.Run("migrated store reports features and no pending migration", func(t *testing.T) {
		handler, _ := newSystemHandler(t)
		w := httptest.NewRecorder()

		handler.Version(w, httptest.NewRequest(http.MethodGet, "/api/system/version", nil))

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var info model.VersionInfo
		require.NoError(t, json.NewDecoder(w.Body).Decode(&info))
		assert.NotEmpty(t, info.AppVersion)
		assert.NotEmpty(t, info.DbVersion)
		assert.True(t, info.Features["calendar"])
		assert.False(t, info.Features["scheduler"])
		assert.False(t, info.MigrationNeeded, "unexpected message %v", info.MigrationMessage)
	})

	t.Run("unreadable schema version returns 500", func(t *testing.T) {
		handler, db := newSystemHandler(t)
		db.Close()
		w := httptest.NewRecorder()

		handler.Version(w, httptest.NewRequest(http.MethodGet, "/api/system/version", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "failed to read schema version")
	})
}
