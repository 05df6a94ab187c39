package sales_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/db/dbtest"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/remote"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/retry"
	"github.com/odyssey-erp/odyssey-pos/internal/sales"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
	_ "github.com/odyssey-erp/odyssey-pos/testing"
)

// ============================================================================
// FAKES
// ============================================================================

type fakeSession struct {
	mu     sync.Mutex
	user   string
	token  string
	forced int
}

func (f *fakeSession) RequireUserID(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.user == "" {
		return "", shared.ErrNotAuthenticated
	}
	return f.user, nil
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

func (f *fakeSession) switchTo(user string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user, f.token = user, "tok-"+user
}

type posted struct {
	key  string
	body sales.RemoteSale
}

// salesAPI records uploads and answers with statusFor(ref).
type salesAPI struct {
	mu        sync.Mutex
	posts     []posted
	statusFor func(ref string) int
}

func (a *salesAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body sales.RemoteSale
	_ = json.NewDecoder(r.Body).Decode(&body)
	a.mu.Lock()
	a.posts = append(a.posts, posted{key: r.Header.Get("Idempotency-Key"), body: body})
	statusFor := a.statusFor
	a.mu.Unlock()

	status := http.StatusCreated
	if statusFor != nil {
		status = statusFor(body.Ref)
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"success":true}`))
}

func (a *salesAPI) uploads() []posted {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]posted(nil), a.posts...)
}

// scriptedPoster fails with the queued errors before succeeding.
type scriptedPoster struct {
	mu    sync.Mutex
	errs  []error
	calls int
	block chan struct{}
}

func (p *scriptedPoster) PostJSON(ctx context.Context, _ string, _ any, _ string, _ map[string]string) (*remote.Response, error) {
	p.mu.Lock()
	p.calls++
	block := p.block
	var err error
	if len(p.errs) > 0 {
		err, p.errs = p.errs[0], p.errs[1:]
	}
	p.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &remote.Response{Status: http.StatusOK}, nil
}

type env struct {
	db      *sql.DB
	repo    sales.Repository
	keys    *shared.IdempotencyStore
	session *fakeSession
	svc     *sales.Service
	api     *salesAPI
}

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newEnv(t *testing.T, poster sales.Poster) *env {
	t.Helper()
	sqlDB := dbtest.Open(t)
	e := &env{
		db:      sqlDB,
		repo:    sales.NewRepository(sqlDB),
		keys:    shared.NewIdempotencyStore(sqlDB),
		session: &fakeSession{},
		api:     &salesAPI{},
	}
	e.session.switchTo("u1")
	if poster == nil {
		srv := httptest.NewServer(e.api)
		t.Cleanup(srv.Close)
		poster = remote.NewClient(srv.URL, 5*time.Second)
	}
	var (
		mu   sync.Mutex
		tick int
	)
	e.svc = sales.NewService(e.repo, poster, e.session, e.keys, nil, dbtest.Logger(), sales.ServiceConfig{
		Retry: retry.Options{MaxRetries: 3, Sleep: func(context.Context, time.Duration) error { return nil }},
		Clock: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			tick++
			return base.Add(time.Duration(tick) * time.Second)
		},
	})
	return e
}

func saleRequest(invoice string) sales.CreateSaleRequest {
	return sales.CreateSaleRequest{
		InvoiceNumber: invoice,
		CustomerName:  "Walk-in",
		WarehouseID:   "1",
		Items: []sales.LineItem{
			{ProductID: "10", Name: "Kopi", Quantity: 2, UnitPrice: 15000},
			{ProductID: "11", Name: "Roti", Quantity: 1, UnitPrice: 8000, Discount: 500, TaxPercent: 10},
		},
	}
}

func (e *env) create(t *testing.T, invoices ...string) []sales.Sale {
	t.Helper()
	out := make([]sales.Sale, 0, len(invoices))
	for _, inv := range invoices {
		s, err := e.svc.Create(context.Background(), saleRequest(inv))
		require.NoError(t, err)
		out = append(out, s)
	}
	return out
}

func (e *env) rawStatus(t *testing.T, id string) (string, int, string) {
	t.Helper()
	var (
		status, msg string
		attempts    int
	)
	require.NoError(t, e.db.QueryRow(`SELECT sync_status, sync_attempts, COALESCE(last_sync_error, '') FROM sales WHERE id = ?`, id).Scan(&status, &attempts, &msg))
	return status, attempts, msg
}

// ============================================================================
// TESTS
// ============================================================================

func TestCreateIsLocalAndPending(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	created := e.create(t, "INV-1", "")

	assert.Equal(t, sales.StatusPending, created[0].SyncStatus)
	assert.Equal(t, "u1", created[0].UserID)
	assert.Equal(t, "cash", created[0].PaymentMethod)
	assert.InDelta(t, 37500.0, created[0].Subtotal, 0.001)
	assert.InDelta(t, 750.0, created[0].TaxAmount, 0.001)
	assert.InDelta(t, 38250.0, created[0].GrandTotal, 0.001)
	assert.Regexp(t, `^INV-20260302-[0-9A-F]{8}$`, created[1].InvoiceNumber)
	assert.Empty(t, e.api.uploads())

	pending, err := e.svc.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "INV-1", pending[0].InvoiceNumber)
	assert.Len(t, pending[0].Items, 2)

	n, err := e.svc.UnsyncedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = e.svc.Create(ctx, saleRequest("INV-1"))
	require.ErrorIs(t, err, sales.ErrAlreadyExists)
}

func TestCreateValidates(t *testing.T) {
	e := newEnv(t, nil)
	req := saleRequest("INV-1")
	req.Items = nil
	_, err := e.svc.Create(context.Background(), req)
	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)

	req = saleRequest("INV-2")
	req.PaymentMethod = "crypto"
	_, err = e.svc.Create(context.Background(), req)
	require.ErrorAs(t, err, &verrs)
}

func TestCreateRequiresSession(t *testing.T) {
	e := newEnv(t, nil)
	e.session.switchTo("")
	_, err := e.svc.Create(context.Background(), saleRequest("INV-1"))
	require.ErrorIs(t, err, shared.ErrNotAuthenticated)
}

func TestSyncUploadsAndPurges(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	created := e.create(t, "INV-1", "INV-2")

	res, err := e.svc.SyncPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Zero(t, res.Failed)

	uploads := e.api.uploads()
	require.Len(t, uploads, 2)
	assert.Equal(t, "INV-1", uploads[0].body.Ref)
	assert.Equal(t, created[0].ID, uploads[0].key)
	assert.Equal(t, 1, uploads[0].body.PaymentType)
	assert.InDelta(t, 38250.0, uploads[0].body.GrandTotal, 0.001)

	pending, err := e.svc.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	_, err = e.svc.Get(ctx, created[0].ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	seen, err := e.keys.Seen(ctx, created[1].ID, sales.IdempotencyModule)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestUserScoping(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	created := e.create(t, "INV-A")

	e.session.switchTo("u2")
	_, err := e.svc.Get(ctx, created[0].ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	pending, err := e.svc.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	ranged, err := e.svc.ListByDateRange(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ranged)
	n, err := e.svc.UnsyncedCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	res, err := e.svc.SyncPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
	assert.Empty(t, e.api.uploads())

	// Same invoice number is fine for another user.
	e.create(t, "INV-A")

	e.session.switchTo("u1")
	ranged, err = e.svc.ListByDateRange(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, created[0].ID, ranged[0].ID)
}

func TestSyncAuthErrorStopsQueue(t *testing.T) {
	e := newEnv(t, nil)
	e.api.statusFor = func(string) int { return http.StatusUnauthorized }
	created := e.create(t, "INV-1", "INV-2", "INV-3")

	res, err := e.svc.SyncPending(context.Background())
	require.ErrorIs(t, err, shared.ErrSessionExpired)
	assert.True(t, res.Aborted)
	assert.Equal(t, 2, res.Remaining)
	assert.Len(t, e.api.uploads(), 1)
	assert.Equal(t, 1, e.session.forced)

	status, attempts, msg := e.rawStatus(t, created[0].ID)
	assert.Equal(t, "failed", status)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, "authentication required", msg)
	for _, s := range created[1:] {
		status, attempts, _ := e.rawStatus(t, s.ID)
		assert.Equal(t, "pending", status)
		assert.Zero(t, attempts)
	}
}

func TestSyncFailureDoesNotBlockOthers(t *testing.T) {
	e := newEnv(t, nil)
	e.api.statusFor = func(ref string) int {
		if ref == "INV-2" {
			return http.StatusInternalServerError
		}
		return http.StatusOK
	}
	created := e.create(t, "INV-1", "INV-2", "INV-3")

	res, err := e.svc.SyncPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, e.api.uploads(), 3)

	status, attempts, msg := e.rawStatus(t, created[1].ID)
	assert.Equal(t, "failed", status)
	assert.Equal(t, 1, attempts)
	assert.Contains(t, msg, "500")

	e.api.statusFor = nil
	res, err = e.svc.SyncPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	n, err := e.svc.UnsyncedCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSyncRetriesNetworkErrors(t *testing.T) {
	poster := &scriptedPoster{errs: []error{
		errors.New("dial tcp 10.0.0.1:443: connect: connection refused"),
		errors.New("read tcp: connection reset by peer"),
	}}
	e := newEnv(t, poster)
	e.create(t, "INV-1")

	res, err := e.svc.SyncPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 3, poster.calls)
}

func TestSyncGivesUpAfterMaxRetries(t *testing.T) {
	refused := errors.New("connect: connection refused")
	poster := &scriptedPoster{errs: []error{refused, refused, refused, refused}}
	e := newEnv(t, poster)
	created := e.create(t, "INV-1")

	res, err := e.svc.SyncPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3, poster.calls)
	status, _, msg := e.rawStatus(t, created[0].ID)
	assert.Equal(t, "failed", status)
	assert.Equal(t, refused.Error(), msg)
}

func TestSyncSkipsAlreadyAcceptedSale(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	created := e.create(t, "INV-1")
	require.NoError(t, e.keys.CheckAndInsert(ctx, created[0].ID, sales.IdempotencyModule))

	res, err := e.svc.SyncPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AlreadyAccepted)
	assert.Empty(t, e.api.uploads())
	_, err = e.svc.Get(ctx, created[0].ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSyncRecoversInterruptedSales(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	created := e.create(t, "INV-1")
	require.NoError(t, e.repo.Transition(ctx, "u1", created[0].ID, sales.StatusSyncing, "", base))

	res, err := e.svc.SyncPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Recovered)
	assert.Equal(t, 1, res.Synced)
}

func TestSyncSingleFlight(t *testing.T) {
	poster := &scriptedPoster{block: make(chan struct{})}
	e := newEnv(t, poster)
	e.create(t, "INV-1")

	done := make(chan sales.SyncResult, 1)
	go func() {
		res, _ := e.svc.SyncPending(context.Background())
		done <- res
	}()
	require.Eventually(t, func() bool {
		poster.mu.Lock()
		defer poster.mu.Unlock()
		return poster.calls == 1
	}, 2*time.Second, 5*time.Millisecond)

	res, err := e.svc.SyncPending(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	close(poster.block)
	first := <-done
	assert.Equal(t, 1, first.Synced)
}

func TestSyncRequiresRemoteToken(t *testing.T) {
	e := newEnv(t, nil)
	e.create(t, "INV-1")
	e.session.mu.Lock()
	e.session.token = ""
	e.session.mu.Unlock()

	_, err := e.svc.SyncPending(context.Background())
	require.ErrorIs(t, err, shared.ErrNotAuthenticated)
	assert.Empty(t, e.api.uploads())
}

func TestTransitionGuards(t *testing.T) {
	assert.True(t, sales.StatusPending.CanTransition(sales.StatusSyncing))
	assert.True(t, sales.StatusFailed.CanTransition(sales.StatusSyncing))
	assert.True(t, sales.StatusSyncing.CanTransition(sales.StatusFailed))
	assert.False(t, sales.StatusPending.CanTransition(sales.StatusSynced))
	assert.False(t, sales.StatusSynced.CanTransition(sales.StatusSyncing))
	assert.False(t, sales.StatusFailed.CanTransition(sales.StatusSynced))

	e := newEnv(t, nil)
	ctx := context.Background()
	created := e.create(t, "INV-1")
	err := e.repo.Transition(ctx, "u1", created[0].ID, sales.StatusSynced, "", base)
	require.ErrorIs(t, err, sales.ErrInvalidStatus)

	purged, err := e.repo.PurgeSynced(ctx, "u1", created[0].ID)
	require.NoError(t, err)
	assert.False(t, purged)

	err = e.repo.Transition(ctx, "u2", created[0].ID, sales.StatusSyncing, "", base)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestHolds(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	_, err := e.svc.CreateHold(ctx, sales.CreateHoldRequest{Name: ""})
	require.Error(t, err)

	hold, err := e.svc.CreateHold(ctx, sales.CreateHoldRequest{Name: "Table 4", Items: saleRequest("").Items})
	require.NoError(t, err)
	assert.InDelta(t, 38250.0, hold.TotalAmount, 0.001)
	other, err := e.svc.CreateHold(ctx, sales.CreateHoldRequest{Name: "Table 5", Items: saleRequest("").Items[:1]})
	require.NoError(t, err)

	holds, err := e.svc.ListHolds(ctx)
	require.NoError(t, err)
	require.Len(t, holds, 2)

	loaded, err := e.svc.LoadHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, "Table 4", loaded.Name)
	assert.Len(t, loaded.Items, 2)
	_, err = e.svc.LoadHold(ctx, hold.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.NoError(t, e.svc.DeleteHold(ctx, other.ID))
	require.ErrorIs(t, e.svc.DeleteHold(ctx, other.ID), shared.ErrNotFound)
}
