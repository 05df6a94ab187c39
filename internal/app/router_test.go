package app_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/app"
	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/db/dbtest"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/remote"
	"github.com/odyssey-erp/odyssey-pos/internal/sales"
	_ "github.com/odyssey-erp/odyssey-pos/testing"
)

// commerceAPI is a minimal stand-in for the remote commerce API.
type commerceAPI struct {
	mu    sync.Mutex
	sales []string
	auth  []string
}

func (c *commerceAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.auth = append(c.auth, r.Header.Get("Authorization"))
	c.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/login":
		_, _ = io.WriteString(w, `{"success":true,"data":{"token":"tok-1","user":{"id":7,"name":"Ana","email":"ana@shop.test"}}}`)
	case "/products":
		_, _ = io.WriteString(w, `{"data":[{"id":1,"name":"Kopi Susu","price":"15000","code":"KS-01"}],"meta":{"current_page":1,"last_page":1,"total":1}}`)
	case "/sales":
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.sales = append(c.sales, string(body))
		c.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"success":true}`)
	default:
		_, _ = io.WriteString(w, `{"success":true,"data":[]}`)
	}
}

func newTestContainer(t *testing.T, mutate ...func(*app.Config)) (*app.Container, *commerceAPI) {
	t.Helper()
	api := &commerceAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	cfg := &app.Config{
		AppEnv:                     "test",
		AppRequestTimeout:          5 * time.Second,
		AppRateLimit:               1000,
		SyncRetryAttempts:          1,
		SalesSyncSchedule:          "@every 1h",
		ReferenceSyncSchedule:      "@every 1h",
		IdempotencyCleanupSchedule: "@daily",
		IdempotencyRetention:       time.Hour,
	}
	for _, fn := range mutate {
		fn(cfg)
	}
	c := app.NewContainer(cfg, dbtest.Open(t), dbtest.Logger(), remote.NewClient(srv.URL, 5*time.Second))
	c.RegisterHooks()
	return c, api
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	return res
}

func TestHealthzAndSecurityHeaders(t *testing.T) {
	c, _ := newTestContainer(t)
	h := c.Router(nil)

	res := do(h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"status":"ok"}`, res.Body.String())
	assert.Equal(t, "DENY", res.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", res.Header().Get("X-Content-Type-Options"))

	res = do(h, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"jobs":[]}`, res.Body.String())

	require.NoError(t, c.DB.Close())
	res = do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, res.Code)
}

func TestOfflineFirstFlow(t *testing.T) {
	c, api := newTestContainer(t)
	h := c.Router(nil)

	sale := `{"invoice_number":"INV-1","items":[{"product_id":"1","quantity":1,"unit_price":15000}]}`
	res := do(h, http.MethodPost, "/sales", sale)
	require.Equal(t, http.StatusUnauthorized, res.Code)

	res = do(h, http.MethodPost, "/auth/login", `{"email":"ana@shop.test","password":"secret1"}`)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = do(h, http.MethodPost, "/sales", sale)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	res = do(h, http.MethodGet, "/sales/unsynced-count", "")
	assert.JSONEq(t, `{"count":1}`, res.Body.String())

	res = do(h, http.MethodPost, "/sales/sync", "")
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var result sales.SyncResult
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Synced)
	api.mu.Lock()
	require.Len(t, api.sales, 1)
	assert.Contains(t, api.sales[0], `"ref":"INV-1"`)
	assert.Contains(t, api.auth, "Bearer tok-1")
	api.mu.Unlock()

	res = do(h, http.MethodGet, "/reference/payment-methods", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "Cash")

	res = do(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "pos_http_requests_total")
	assert.Contains(t, res.Body.String(), `pos_sync_runs_total{job="sales_sync",status="success"} 1`)
}

func TestCatalogSyncRunsInBackground(t *testing.T) {
	c, _ := newTestContainer(t)
	h := c.Router(nil)
	res := do(h, http.MethodPost, "/auth/login", `{"email":"ana@shop.test","password":"secret1"}`)
	require.Equal(t, http.StatusOK, res.Code)

	res = do(h, http.MethodPost, "/catalog/sync", "")
	require.Equal(t, http.StatusAccepted, res.Code)

	require.Eventually(t, func() bool {
		res := do(h, http.MethodGet, "/catalog/progress", "")
		var status catalog.Status
		if json.Unmarshal(res.Body.Bytes(), &status) != nil {
			return false
		}
		return status.IsCompleted && !status.Running
	}, 5*time.Second, 20*time.Millisecond)

	res = do(h, http.MethodGet, "/products/search?q=kopi", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "KS-01")
}

func TestLoginResumesOnlyUnfinishedCatalog(t *testing.T) {
	c, _ := newTestContainer(t, func(cfg *app.Config) { cfg.SyncOnLogin = true })
	h := c.Router(nil)
	login := `{"email":"ana@shop.test","password":"secret1"}`
	catalogRuns := `pos_sync_runs_total{job="catalog_sync",status="success"} 1`

	res := do(h, http.MethodPost, "/auth/login", login)
	require.Equal(t, http.StatusOK, res.Code)
	require.Eventually(t, func() bool {
		done, err := c.Syncer.IsCompleted(context.Background())
		return err == nil && done && !c.Syncer.Running()
	}, 5*time.Second, 20*time.Millisecond)

	res = do(h, http.MethodPost, "/auth/login", login)
	require.Equal(t, http.StatusOK, res.Code)
	assert.False(t, c.Syncer.Running())
	res = do(h, http.MethodGet, "/metrics", "")
	assert.Contains(t, res.Body.String(), catalogRuns)
}
