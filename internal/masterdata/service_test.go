package masterdata_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/masterdata"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/db/dbtest"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/remote"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/retry"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
	_ "github.com/odyssey-erp/odyssey-pos/testing"
)

type fakeSession struct {
	mu     sync.Mutex
	token  string
	forced int
}

func (f *fakeSession) RequireToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.token == "" {
		return "", shared.ErrNotAuthenticated
	}
	return f.token, nil
}

func (f *fakeSession) ForceLogout(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.token != "" {
		f.token = ""
		f.forced++
	}
	return nil
}

type response struct {
	status int
	body   string
}

type referenceAPI struct {
	mu     sync.Mutex
	routes map[string]response
	calls  map[string]int
}

func (a *referenceAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	a.calls[r.URL.Path]++
	resp, ok := a.routes[r.URL.Path]
	a.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if resp.status != 0 {
		w.WriteHeader(resp.status)
	}
	_, _ = w.Write([]byte(resp.body))
}

func (a *referenceAPI) route(path string, status int, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.routes[path] = response{status: status, body: body}
}

func (a *referenceAPI) count(path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[path]
}

type fixture struct {
	svc     *masterdata.Service
	api     *referenceAPI
	session *fakeSession
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	api := &referenceAPI{routes: map[string]response{}, calls: map[string]int{}}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	f := &fixture{api: api, session: &fakeSession{token: "tok"}}
	f.svc = masterdata.NewService(masterdata.NewRepository(dbtest.Open(t)), remote.NewClient(srv.URL, 5*time.Second), f.session, nil, dbtest.Logger(), masterdata.ServiceConfig{
		Retry: retry.Options{MaxRetries: 3, Sleep: func(context.Context, time.Duration) error { return nil }},
	})
	return f
}

func TestFetchReplacesTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.api.route("/warehouses", 0, `{"success":true,"data":[
		{"id":1,"attributes":{"name":"Main","city":"Bandung"}},
		{"id":2,"name":"Back","zip":"40111"},
		{"name":"no id"}
	]}`)

	res, err := f.svc.Fetch(ctx, "warehouses")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Saved)
	assert.Equal(t, 1, res.Skipped)

	snap, err := f.svc.Get(ctx, "warehouses")
	require.NoError(t, err)
	require.Len(t, snap.Items, 2)
	assert.Equal(t, "Main", snap.Items[0].Fields["name"])
	assert.Equal(t, "Bandung", snap.Items[0].Fields["city"])
	assert.Equal(t, "40111", snap.Items[1].Fields["zip_code"])
	assert.NotEmpty(t, snap.Items[1].Raw)
	assert.NotNil(t, snap.FetchedAt)
}

func TestFetchFailureKeepsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.api.route("/units", 0, `[{"id":"kg","name":"Kilogram","short_name":"kg"}]`)
	_, err := f.svc.Fetch(ctx, "units")
	require.NoError(t, err)

	f.api.route("/units", http.StatusInternalServerError, `{"message":"down"}`)
	_, err = f.svc.Fetch(ctx, "units")
	require.Error(t, err)
	assert.Equal(t, 4, f.api.count("/units"))

	f.api.route("/units", 0, `{"message":"nothing here"}`)
	res, err := f.svc.Fetch(ctx, "units")
	require.NoError(t, err)
	assert.True(t, res.Kept)

	f.api.route("/units", 0, `{"success":false,"message":"maintenance"}`)
	res, err = f.svc.Fetch(ctx, "units")
	require.NoError(t, err)
	assert.True(t, res.Kept)

	snap, err := f.svc.Get(ctx, "units")
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "kg", snap.Items[0].ID)
}

func TestEmptyFetchSeedsDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.api.route("/get-business-payment-methods", 0, `{"data":[]}`)

	res, err := f.svc.Fetch(ctx, "payment-methods")
	require.NoError(t, err)
	assert.True(t, res.Kept)

	snap, err := f.svc.Get(ctx, "payment-methods")
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "Cash", snap.Items[0].Fields["name"])
}

func TestGetSeedsDefaultsOnlyWhenEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.EnsureDefaults(ctx))

	snap, err := f.svc.Get(ctx, "warehouses")
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "Default Warehouse", snap.Items[0].Fields["name"])
	assert.Nil(t, snap.FetchedAt)

	snap, err = f.svc.Get(ctx, "countries")
	require.NoError(t, err)
	assert.Empty(t, snap.Items)
}

func TestAuthErrorIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.api.route("/countries", http.StatusUnauthorized, `{"message":"Unauthenticated."}`)

	_, err := f.svc.Fetch(context.Background(), "countries")
	require.ErrorIs(t, err, shared.ErrSessionExpired)
	assert.Equal(t, 1, f.api.count("/countries"))
	assert.Equal(t, 1, f.session.forced)
}

func TestFetchSingletonSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.api.route("/settings", 0, `{"success":true,"data":{"type":"settings","attributes":{"currency":"IDR","tax":11}}}`)

	res, err := f.svc.Fetch(ctx, "settings")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Saved)

	snap, err := f.svc.Get(ctx, "settings")
	require.NoError(t, err)
	assert.JSONEq(t, `{"currency":"IDR","tax":11}`, string(snap.Value))
}

func TestSingletonWithoutPayloadKeepsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.api.route("/settings", 0, `{"success":true,"data":{"attributes":{"currency":"IDR","tax":11}}}`)
	_, err := f.svc.Fetch(ctx, "settings")
	require.NoError(t, err)

	for _, body := range []string{`{"message":"Server busy"}`, `{"data":[]}`, `{"success":true,"data":null,"meta":{}}`} {
		f.api.route("/settings", 0, body)
		res, err := f.svc.Fetch(ctx, "settings")
		require.NoError(t, err, body)
		assert.True(t, res.Kept, body)
		assert.Zero(t, res.Saved, body)

		snap, err := f.svc.Get(ctx, "settings")
		require.NoError(t, err)
		assert.JSONEq(t, `{"currency":"IDR","tax":11}`, string(snap.Value), body)
	}
}

func TestSingletonAtRootDropsWrapperFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.api.route("/config", 0, `{"success":true,"message":"ok","currency_symbol":"Rp","decimals":0}`)

	res, err := f.svc.Fetch(ctx, "config")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Saved)

	snap, err := f.svc.Get(ctx, "config")
	require.NoError(t, err)
	assert.JSONEq(t, `{"currency_symbol":"Rp","decimals":0}`, string(snap.Value))
}

func TestFetchAllReportsPerDataset(t *testing.T) {
	f := newFixture(t)
	for _, ds := range masterdata.DefaultDatasets() {
		f.api.route(ds.Endpoint, 0, `{"data":[{"id":1,"name":"x"}]}`)
	}
	f.api.route("/countries", http.StatusBadGateway, ``)

	results, err := f.svc.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, len(masterdata.DefaultDatasets()))
	for _, res := range results {
		if res.Dataset == "countries" {
			assert.NotEmpty(t, res.Error)
			continue
		}
		assert.Empty(t, res.Error, res.Dataset)
	}
}

func TestFetchAllRequiresSession(t *testing.T) {
	f := newFixture(t)
	f.session.token = ""
	_, err := f.svc.FetchAll(context.Background())
	require.ErrorIs(t, err, shared.ErrNotAuthenticated)
}

func TestUnknownDataset(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), "planets")
	require.ErrorIs(t, err, masterdata.ErrUnknownDataset)
	_, err = f.svc.Fetch(context.Background(), "planets")
	require.ErrorIs(t, err, masterdata.ErrUnknownDataset)
}

func TestHandlerRoutes(t *testing.T) {
	f := newFixture(t)
	f.api.route("/product-categories", 0, `{"data":[{"id":5,"attributes":{"name":"Drinks"}}]}`)
	r := chi.NewRouter()
	r.Route("/reference", masterdata.NewHandler(dbtest.Logger(), f.svc).MountRoutes)

	res := httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/reference/product-categories/fetch", nil))
	require.Equal(t, http.StatusOK, res.Code)

	res = httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/reference/product-categories", nil))
	require.Equal(t, http.StatusOK, res.Code)
	var snap masterdata.Snapshot
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &snap))
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "Drinks", snap.Items[0].Fields["name"])

	res = httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/reference/planets", nil))
	assert.Equal(t, http.StatusNotFound, res.Code)

	f.api.route("/units", http.StatusServiceUnavailable, ``)
	res = httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/reference/units/fetch", nil))
	assert.Equal(t, http.StatusBadGateway, res.Code)
}
