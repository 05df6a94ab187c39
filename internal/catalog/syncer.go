package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/envelope"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/remote"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/retry"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// JobName labels catalog runs in sync metrics.
const JobName = "catalog_sync"

// DefaultItemPaths are the candidate locations of the product array.
var DefaultItemPaths = []string{"data", "data.data", "products", "data.products"}

// Fetcher is the slice of the remote client the importer needs.
type Fetcher interface {
	GetJSON(ctx context.Context, path string, query url.Values, token string) (envelope.Envelope, error)
}

// SessionProvider authorizes remote calls and reacts to rejected tokens.
type SessionProvider interface {
	RequireToken(ctx context.Context) (string, error)
	ForceLogout(ctx context.Context, reason string) error
}

// SyncerConfig tunes the importer. Zero values fall back to defaults.
type SyncerConfig struct {
	Path      string
	PageDelay time.Duration
	Retry     retry.Options
	MetaPaths []string
	ItemPaths []string
	// Sleep waits between pages; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	Clock func() time.Time
}

// Syncer imports the remote catalog page by page. Only one run is active at
// a time; overlapping triggers return immediately.
type Syncer struct {
	repo    Repository
	api     Fetcher
	session SessionProvider
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
	cfg     SyncerConfig

	sem     *semaphore.Weighted
	running atomic.Bool
}

// NewSyncer constructs a Syncer.
func NewSyncer(repo Repository, api Fetcher, session SessionProvider, metrics *jobmetrics.Metrics, logger *slog.Logger, cfg SyncerConfig) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/products"
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = retry.Defaults()
	}
	cfg.Retry = remote.AuthAware(cfg.Retry)
	if len(cfg.MetaPaths) == 0 {
		cfg.MetaPaths = envelope.DefaultMetaPaths
	}
	if len(cfg.ItemPaths) == 0 {
		cfg.ItemPaths = DefaultItemPaths
	}
	if cfg.Sleep == nil {
		cfg.Sleep = retry.SleepContext
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Syncer{
		repo:    repo,
		api:     api,
		session: session,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "catalog_sync")),
		cfg:     cfg,
		sem:     semaphore.NewWeighted(1),
	}
}

// Running reports whether an import is in flight.
func (s *Syncer) Running() bool {
	return s.running.Load()
}

// Start launches Run in the background. It returns false when a run is
// already active.
func (s *Syncer) Start(ctx context.Context) bool {
	if !s.acquire() {
		return false
	}
	go func() {
		defer s.release()
		res, err := s.tracked(context.WithoutCancel(ctx))
		if err != nil {
			s.logger.Error("catalog sync failed", slog.Any("error", err))
			return
		}
		s.logger.Info("catalog sync finished",
			slog.Int("pages", res.PagesFetched), slog.Int("products", res.ProductsSaved))
	}()
	return true
}

// Run imports pages until the catalog is complete or a page fails. A
// completed import is not repeated; Reset starts over.
func (s *Syncer) Run(ctx context.Context) (SyncResult, error) {
	if !s.acquire() {
		s.logger.Debug("catalog sync already running, skipping")
		return SyncResult{Skipped: true}, nil
	}
	defer s.release()
	return s.tracked(ctx)
}

func (s *Syncer) acquire() bool {
	if !s.sem.TryAcquire(1) {
		return false
	}
	s.running.Store(true)
	return true
}

func (s *Syncer) release() {
	s.running.Store(false)
	s.sem.Release(1)
}

func (s *Syncer) tracked(ctx context.Context) (SyncResult, error) {
	tracker := s.metrics.Track(JobName)
	res, err := s.run(ctx)
	return res, tracker.End(err)
}

func (s *Syncer) run(ctx context.Context) (SyncResult, error) {
	var res SyncResult

	progress, found, err := s.repo.GetProgress(ctx)
	if err != nil {
		return res, fmt.Errorf("catalog: read progress: %w", err)
	}
	if found && progress.IsCompleted {
		res.AlreadyComplete = true
		res.Progress = progress
		return res, nil
	}
	if !found {
		progress = Progress{ID: ProgressID, CurrentPage: 1, LastPage: 1}
		if err := s.repo.SaveProgress(ctx, progress); err != nil {
			return res, fmt.Errorf("catalog: init progress: %w", err)
		}
	} else {
		s.logger.Info("resuming catalog sync",
			slog.Int("page", progress.CurrentPage), slog.Int("last_page", progress.LastPage))
	}

	token, err := s.session.RequireToken(ctx)
	if err != nil {
		return res, err
	}

	for !progress.IsCompleted {
		page := progress.CurrentPage
		env, err := retry.DoValue(ctx, s.cfg.Retry, func(ctx context.Context) (envelope.Envelope, error) {
			return s.api.GetJSON(ctx, s.cfg.Path, url.Values{"page": {strconv.Itoa(page)}}, token)
		})
		if err != nil {
			res.Progress = progress
			return res, s.fail(ctx, page, err)
		}
		res.PagesFetched++

		// A page without a product array is not committed, so the next run
		// refetches it. An empty array is a real empty page.
		items, ok := envelope.ExtractArrayData(env.Raw, s.cfg.ItemPaths...)
		if !ok {
			s.logger.Warn("catalog page carried no product data", slog.Int("page", page))
			res.Progress = progress
			return res, fmt.Errorf("catalog: page %d: %w", page, ErrMalformedPage)
		}

		products := make([]Product, 0, len(items))
		for _, item := range items {
			p, ok := MapProduct(item)
			if !ok {
				res.RecordsSkipped++
				continue
			}
			products = append(products, p)
		}

		meta := envelope.Pagination(env.Raw, s.cfg.MetaPaths...)
		lastPage, total := progress.LastPage, progress.TotalProducts
		if meta.Found {
			lastPage, total = meta.LastPage, meta.Total
		} else if lastPage < page {
			lastPage = page
		}
		if total < len(products) {
			total = len(products)
		}

		next := progress.Advance(page, lastPage, total, s.cfg.Clock().UTC())
		if err := s.repo.CommitPage(ctx, products, next); err != nil {
			res.Progress = progress
			return res, fmt.Errorf("catalog: commit page %d: %w", page, err)
		}
		progress = next
		res.ProductsSaved += len(products)
		s.metrics.AddRecords(JobName, "saved", len(products))
		s.metrics.AddRecords(JobName, "skipped", len(items)-len(products))
		s.metrics.SetBacklog("catalog_pages", max(progress.LastPage-progress.CurrentPage+1, 0))
		s.logger.Debug("catalog page committed",
			slog.Int("page", page), slog.Int("last_page", progress.LastPage), slog.Int("products", len(products)))

		if progress.IsCompleted {
			break
		}
		if err := s.cfg.Sleep(ctx, s.cfg.PageDelay); err != nil {
			res.Progress = progress
			return res, err
		}
	}

	res.Progress = progress
	return res, nil
}

func (s *Syncer) fail(ctx context.Context, page int, err error) error {
	if remote.IsAuthError(err) {
		if lerr := s.session.ForceLogout(ctx, err.Error()); lerr != nil {
			s.logger.Error("force logout", slog.Any("error", lerr))
		}
		return fmt.Errorf("catalog: page %d: %w: %w", page, shared.ErrSessionExpired, err)
	}
	return fmt.Errorf("catalog: page %d: %w", page, err)
}

// Reset discards the import progress so the next Run starts from page 1.
// Products already imported are kept and overwritten by the new import.
func (s *Syncer) Reset(ctx context.Context) error {
	if !s.sem.TryAcquire(1) {
		return ErrSyncInProgress
	}
	defer s.sem.Release(1)
	if err := s.repo.ResetProgress(ctx); err != nil {
		return fmt.Errorf("catalog: reset progress: %w", err)
	}
	s.logger.Info("catalog sync progress reset")
	return nil
}

// Status reports the persisted progress and whether a run is active.
func (s *Syncer) Status(ctx context.Context) (Status, error) {
	progress, found, err := s.repo.GetProgress(ctx)
	if err != nil {
		return Status{}, err
	}
	count, err := s.repo.Count(ctx)
	if err != nil {
		return Status{}, err
	}
	if !found {
		progress = Progress{ID: ProgressID, CurrentPage: 1, LastPage: 1}
	}
	return Status{
		Progress:      progress,
		Started:       found,
		Running:       s.Running(),
		Percent:       progress.Percent(),
		LocalProducts: count,
	}, nil
}

// IsCompleted is a convenience for callers deciding whether to trigger a run.
func (s *Syncer) IsCompleted(ctx context.Context) (bool, error) {
	p, found, err := s.repo.GetProgress(ctx)
	if err != nil {
		return false, err
	}
	return found && p.IsCompleted, nil
}
