package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/rki-case-scraper/internal/rki"
	"github.com/JakeFAU/rki-case-scraper/internal/storage/memory"
)

var base = time.Date(2021, time.March, 5, 0, 0, 0, 0, time.UTC)

type brokenStore struct{ *memory.Store }

func (brokenStore) RecentLogs(context.Context, int) ([]rki.LogEntry, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) Snapshots(context.Context) ([]rki.Snapshot, error) {
	return nil, errors.New("connection refused")
}

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_RecentLogsNewestFirst(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	for i := 0; i < 25; i++ {
		require.NoError(t, store.AppendLog(context.Background(), rki.LogEntry{
			ID:        fmt.Sprintf("log-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
			Info:      fmt.Sprintf("run %d", i),
		}))
	}
	server := NewServer(store, Config{}, zap.NewNop())

	rec := serve(t, server.Handler(), "/")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	lines := strings.Split(rec.Body.String(), "\n")
	require.Len(t, lines, 20)
	require.Equal(t, "2021-03-06T00:00:00Z - run 24", lines[0])
	require.Equal(t, "2021-03-05T05:00:00Z - run 5", lines[19])
}

func TestServer_RecentLogsIncludesErrors(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	require.NoError(t, store.AppendLog(context.Background(), rki.LogEntry{
		ID: "a", CreatedAt: base, Info: "Error in program.", Error: "parse table: table not found",
	}))
	require.NoError(t, store.AppendLog(context.Background(), rki.LogEntry{
		ID: "b", CreatedAt: base.Add(time.Hour), Info: "New entry created",
	}))
	server := NewServer(store, Config{}, nil)

	rec := serve(t, server.Handler(), "/")

	require.Equal(t,
		"2021-03-05T01:00:00Z - New entry created\n"+
			"2021-03-05T00:00:00Z - Error in program. - parse table: table not found",
		rec.Body.String())
}

func TestServer_RecentLogsHonorsLimit(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendLog(context.Background(), rki.LogEntry{ID: fmt.Sprint(i), CreatedAt: base, Info: "x"}))
	}
	server := NewServer(store, Config{RecentLogs: 3}, nil)

	rec := serve(t, server.Handler(), "/")
	require.Len(t, strings.Split(rec.Body.String(), "\n"), 3)
}

func TestServer_RecentLogsEmpty(t *testing.T) {
	t.Parallel()

	server := NewServer(memory.NewStore(), Config{}, nil)
	rec := serve(t, server.Handler(), "/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Body.String())
}

func TestServer_DataInsertionOrder(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendSnapshot(context.Background(), rki.Snapshot{
			ID:        fmt.Sprintf("snap-%d", i),
			CheckedAt: base.Add(time.Duration(i) * time.Hour),
			UpdatedAt: base,
			Data:      rki.Dataset{{State: "Bremen", Amount: int64(17524 + i)}},
		}))
	}
	server := NewServer(store, Config{}, nil)

	rec := serve(t, server.Handler(), "/data")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var got []rki.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 3)
	for i, snap := range got {
		require.Equal(t, fmt.Sprintf("snap-%d", i), snap.ID)
	}
	require.EqualValues(t, 17526, got[2].Data[0].Amount)
}

func TestServer_DataEmptyIsArray(t *testing.T) {
	t.Parallel()

	server := NewServer(memory.NewStore(), Config{}, nil)
	rec := serve(t, server.Handler(), "/data")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}

func TestServer_StoreErrors(t *testing.T) {
	t.Parallel()

	server := NewServer(brokenStore{memory.NewStore()}, Config{}, nil)
	for _, path := range []string{"/", "/data"} {
		rec := serve(t, server.Handler(), path)
		require.Equal(t, http.StatusInternalServerError, rec.Code, path)
		require.Contains(t, rec.Body.String(), `"error"`, path)
	}

	rec := serve(t, server.Handler(), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_HealthAndReady(t *testing.T) {
	t.Parallel()

	server := NewServer(memory.NewStore(), Config{}, nil)

	rec := serve(t, server.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(t, server.Handler(), "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := NewServer(memory.NewStore(), Config{}, nil)
	_ = serve(t, server.Handler(), "/healthz")

	rec := serve(t, server.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_RequestIDHeader(t *testing.T) {
	t.Parallel()

	server := NewServer(memory.NewStore(), Config{}, nil)

	rec := serve(t, server.Handler(), "/healthz")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestFormatLogs(t *testing.T) {
	t.Parallel()

	require.Empty(t, FormatLogs(nil))
	require.Equal(t, "2021-03-05T00:00:00Z - ok", FormatLogs([]rki.LogEntry{{CreatedAt: base, Info: "ok"}}))
}
