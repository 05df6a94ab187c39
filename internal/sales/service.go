package sales

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/remote"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/retry"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

const (
	// JobName labels sales uploads in sync metrics.
	JobName = "sales_sync"
	// IdempotencyModule scopes accepted sale ids in the idempotency store.
	IdempotencyModule = "sales.remote"

	reasonInterrupted = "interrupted"
	reasonAuth        = "authentication required"
)

// Poster is the slice of the remote client used to upload sales.
type Poster interface {
	PostJSON(ctx context.Context, path string, body any, token string, headers map[string]string) (*remote.Response, error)
}

// SessionProvider resolves the current user at call time.
type SessionProvider interface {
	RequireUserID(ctx context.Context) (string, error)
	RequireToken(ctx context.Context) (string, error)
	ForceLogout(ctx context.Context, reason string) error
}

// IdempotencyStore remembers which sales the server has accepted.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Seen(ctx context.Context, key, module string) (bool, error)
}

// ServiceConfig tunes the outbox.
type ServiceConfig struct {
	Path    string
	Retry   retry.Options
	Payload PayloadConfig
	Clock   func() time.Time
}

// Service records sales locally and uploads them.
type Service struct {
	repo      Repository
	api       Poster
	session   SessionProvider
	keys      IdempotencyStore
	metrics   *jobmetrics.Metrics
	logger    *slog.Logger
	validator *validator.Validate
	cfg       ServiceConfig
	retry     retry.Options
	sem       *semaphore.Weighted
}

// NewService constructs a Service.
func NewService(repo Repository, api Poster, session SessionProvider, keys IdempotencyStore, metrics *jobmetrics.Metrics, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/sales"
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = retry.Defaults()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	cfg.Payload = cfg.Payload.withDefaults()
	return &Service{
		repo:      repo,
		api:       api,
		session:   session,
		keys:      keys,
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "sales")),
		validator: validator.New(),
		cfg:       cfg,
		retry:     remote.TransportOnly(cfg.Retry),
		sem:       semaphore.NewWeighted(1),
	}
}

// ============================================================================
// LOCAL OPERATIONS
// ============================================================================

// Create records a sale for the current user. It never touches the network.
func (s *Service) Create(ctx context.Context, req CreateSaleRequest) (Sale, error) {
	if err := s.validator.Struct(req); err != nil {
		return Sale{}, err
	}
	userID, err := s.session.RequireUserID(ctx)
	if err != nil {
		return Sale{}, err
	}

	now := s.cfg.Clock().UTC()
	sale := Sale{
		ID:            uuid.NewString(),
		UserID:        userID,
		InvoiceNumber: strings.TrimSpace(req.InvoiceNumber),
		Date:          req.Date,
		CustomerID:    req.CustomerID,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		WarehouseID:   req.WarehouseID,
		Items:         req.Items,
		Discount:      req.Discount,
		Shipping:      req.Shipping,
		TaxRate:       req.TaxRate,
		PaymentMethod: defaultString(req.PaymentMethod, "cash"),
		PaymentStatus: defaultString(req.PaymentStatus, "paid"),
		Status:        defaultString(req.Status, "completed"),
		Note:          req.Note,
		HoldRefNo:     req.HoldRefNo,
		CreatedAt:     now,
		SyncStatus:    StatusPending,
	}
	if sale.InvoiceNumber == "" {
		sale.InvoiceNumber = NewInvoiceNumber(now)
	}
	if sale.Date == "" {
		sale.Date = now.Local().Format(time.DateOnly)
	}

	totals := CalculateTotals(req.Items, req.Discount, req.Shipping, req.TaxRate)
	sale.Subtotal = money(totals.Subtotal)
	sale.TaxAmount = money(totals.TaxAmount)
	sale.TotalAmount = money(totals.Total)
	sale.GrandTotal = money(totals.Grand)
	if sale.SaleItems, err = json.Marshal(BuildRemoteLines(req.Items)); err != nil {
		return Sale{}, err
	}

	if err := s.repo.Insert(ctx, sale); err != nil {
		return Sale{}, fmt.Errorf("create sale: %w", err)
	}
	s.logger.Info("sale recorded", slog.String("sale_id", sale.ID), slog.String("invoice", sale.InvoiceNumber))
	s.refreshBacklog(ctx, userID)
	return sale, nil
}

// Get returns one of the current user's sales.
func (s *Service) Get(ctx context.Context, id string) (Sale, error) {
	userID, err := s.session.RequireUserID(ctx)
	if err != nil {
		return Sale{}, err
	}
	return s.repo.Get(ctx, userID, id)
}

// ListPending returns the current user's unsynced sales, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]Sale, error) {
	userID, err := s.session.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListUnsynced(ctx, userID)
}

// UnsyncedCount is the badge count of sales awaiting upload.
func (s *Service) UnsyncedCount(ctx context.Context) (int, error) {
	userID, err := s.session.RequireUserID(ctx)
	if err != nil {
		return 0, err
	}
	return s.repo.CountUnsynced(ctx, userID)
}

// ListByDateRange returns the current user's sales created in [from, to).
func (s *Service) ListByDateRange(ctx context.Context, from, to time.Time) ([]Sale, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: range end must be after start", shared.ErrValidation)
	}
	userID, err := s.session.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByDateRange(ctx, userID, from, to)
}

// ============================================================================
// UPLOAD
// ============================================================================

// SyncPending uploads the current user's unsynced sales oldest first. A
// concurrent call returns immediately with Skipped set. A sale that fails
// is marked failed and the pass moves on; a rejected token stops the pass.
func (s *Service) SyncPending(ctx context.Context) (SyncResult, error) {
	if !s.sem.TryAcquire(1) {
		s.logger.Debug("sales sync already running, skipping")
		return SyncResult{Skipped: true}, nil
	}
	defer s.sem.Release(1)

	tracker := s.metrics.Track(JobName)
	res, err := s.syncPending(ctx)
	return res, tracker.End(err)
}

func (s *Service) syncPending(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	userID, err := s.session.RequireUserID(ctx)
	if err != nil {
		return res, err
	}
	token, err := s.session.RequireToken(ctx)
	if err != nil {
		return res, err
	}
	defer s.refreshBacklog(context.WithoutCancel(ctx), userID)

	if res.Recovered, err = s.repo.RecoverStale(ctx, userID, reasonInterrupted); err != nil {
		return res, fmt.Errorf("recover stale sales: %w", err)
	}
	if res.Recovered > 0 {
		s.logger.Warn("recovered interrupted sales", slog.Int("count", res.Recovered))
	}

	queue, err := s.repo.ListUnsynced(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("list unsynced sales: %w", err)
	}

	for i, sale := range queue {
		if err := ctx.Err(); err != nil {
			res.Remaining = len(queue) - i
			return res, err
		}
		res.Attempted++
		err := s.upload(ctx, userID, token, sale, &res)
		if err == nil {
			continue
		}
		if errors.Is(err, shared.ErrSessionExpired) {
			res.Aborted = true
			res.Remaining = len(queue) - i - 1
			return res, err
		}
		res.Failed++
		s.logger.Warn("sale upload failed", slog.String("sale_id", sale.ID), slog.Any("error", err))
	}
	s.metrics.AddRecords(JobName, "synced", res.Synced+res.AlreadyAccepted)
	s.metrics.AddRecords(JobName, "failed", res.Failed)
	return res, nil
}

// upload drives one sale through syncing to synced or failed.
func (s *Service) upload(ctx context.Context, userID, token string, sale Sale, res *SyncResult) error {
	now := s.cfg.Clock().UTC()
	if err := s.repo.Transition(ctx, userID, sale.ID, StatusSyncing, "", now); err != nil {
		return err
	}

	accepted, err := s.keys.Seen(ctx, sale.ID, IdempotencyModule)
	if err != nil {
		return s.markFailed(ctx, userID, sale.ID, err)
	}
	if accepted {
		s.logger.Info("sale already accepted remotely, skipping upload", slog.String("sale_id", sale.ID))
		if err := s.confirm(ctx, userID, sale.ID, now); err != nil {
			return err
		}
		res.AlreadyAccepted++
		return nil
	}

	payload, err := BuildPayload(sale, s.cfg.Payload)
	if err != nil {
		return s.markFailed(ctx, userID, sale.ID, err)
	}
	headers := map[string]string{"Idempotency-Key": sale.ID}
	_, err = retry.DoValue(ctx, s.retry, func(ctx context.Context) (*remote.Response, error) {
		return s.api.PostJSON(ctx, s.cfg.Path, payload, token, headers)
	})
	if err != nil {
		if remote.IsAuthError(err) {
			if ferr := s.repo.Transition(ctx, userID, sale.ID, StatusFailed, reasonAuth, now); ferr != nil {
				s.logger.Error("mark sale failed", slog.String("sale_id", sale.ID), slog.Any("error", ferr))
			}
			if lerr := s.session.ForceLogout(ctx, err.Error()); lerr != nil {
				s.logger.Error("force logout", slog.Any("error", lerr))
			}
			return fmt.Errorf("sales sync: %w: %w", shared.ErrSessionExpired, err)
		}
		return s.markFailed(context.WithoutCancel(ctx), userID, sale.ID, err)
	}

	if err := s.keys.CheckAndInsert(ctx, sale.ID, IdempotencyModule); err != nil && !errors.Is(err, shared.ErrIdempotencyConflict) {
		s.logger.Error("record accepted sale", slog.String("sale_id", sale.ID), slog.Any("error", err))
	}
	if err := s.confirm(ctx, userID, sale.ID, s.cfg.Clock().UTC()); err != nil {
		return err
	}
	res.Synced++
	return nil
}

func (s *Service) confirm(ctx context.Context, userID, id string, at time.Time) error {
	if err := s.repo.Transition(ctx, userID, id, StatusSynced, "", at); err != nil {
		return fmt.Errorf("mark sale synced: %w", err)
	}
	if _, err := s.repo.PurgeSynced(ctx, userID, id); err != nil {
		return fmt.Errorf("purge synced sale: %w", err)
	}
	return nil
}

func (s *Service) markFailed(ctx context.Context, userID, id string, cause error) error {
	if err := s.repo.Transition(ctx, userID, id, StatusFailed, cause.Error(), s.cfg.Clock().UTC()); err != nil {
		return fmt.Errorf("mark sale failed: %w (cause: %v)", err, cause)
	}
	return cause
}

func (s *Service) refreshBacklog(ctx context.Context, userID string) {
	if s.metrics == nil {
		return
	}
	n, err := s.repo.CountUnsynced(ctx, userID)
	if err != nil {
		s.logger.Warn("count unsynced sales", slog.Any("error", err))
		return
	}
	s.metrics.SetBacklog("sales", n)
}

// ============================================================================
// HOLDS
// ============================================================================

// CreateHold parks a cart.
func (s *Service) CreateHold(ctx context.Context, req CreateHoldRequest) (Hold, error) {
	if err := s.validator.Struct(req); err != nil {
		return Hold{}, err
	}
	now := s.cfg.Clock().UTC()
	hold := Hold{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(req.Name),
		Items:       req.Items,
		TotalAmount: money(CalculateTotals(req.Items, 0, 0, 0).Total),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertHold(ctx, hold); err != nil {
		return Hold{}, fmt.Errorf("create hold: %w", err)
	}
	return hold, nil
}

// ListHolds returns parked carts, newest first.
func (s *Service) ListHolds(ctx context.Context) ([]Hold, error) {
	return s.repo.ListHolds(ctx)
}

// LoadHold returns a parked cart and removes it.
func (s *Service) LoadHold(ctx context.Context, id string) (Hold, error) {
	return s.repo.TakeHold(ctx, id)
}

// DeleteHold discards a parked cart.
func (s *Service) DeleteHold(ctx context.Context, id string) error {
	return s.repo.DeleteHold(ctx, id)
}

// NewInvoiceNumber generates a locally unique invoice reference.
func NewInvoiceNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "INV-" + at.Format("20060102") + "-" + suffix
}

func defaultString(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
