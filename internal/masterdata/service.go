package masterdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/envelope"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/remote"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/retry"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// JobName labels reference refreshes in sync metrics.
const JobName = "reference_sync"

// Fetcher is the slice of the remote client used for reference data.
type Fetcher interface {
	GetJSON(ctx context.Context, path string, query url.Values, token string) (envelope.Envelope, error)
}

// SessionProvider authorizes remote calls and reacts to rejected tokens.
type SessionProvider interface {
	RequireToken(ctx context.Context) (string, error)
	ForceLogout(ctx context.Context, reason string) error
}

// ServiceConfig tunes the reference service.
type ServiceConfig struct {
	Datasets []Dataset
	Retry    retry.Options
	// Concurrency bounds FetchAll. Zero means 4.
	Concurrency int
}

// Service fetches reference datasets and serves the local cache.
type Service struct {
	repo     Repository
	api      Fetcher
	session  SessionProvider
	metrics  *jobmetrics.Metrics
	logger   *slog.Logger
	retry    retry.Options
	limit    int
	datasets map[string]Dataset
	order    []string
	group    singleflight.Group
}

// NewService constructs a Service.
func NewService(repo Repository, api Fetcher, session SessionProvider, metrics *jobmetrics.Metrics, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Datasets) == 0 {
		cfg.Datasets = DefaultDatasets()
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = retry.Defaults()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	s := &Service{
		repo:     repo,
		api:      api,
		session:  session,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "reference_sync")),
		retry:    remote.AuthAware(cfg.Retry),
		limit:    cfg.Concurrency,
		datasets: make(map[string]Dataset, len(cfg.Datasets)),
	}
	for _, ds := range cfg.Datasets {
		s.datasets[ds.Name] = ds
		s.order = append(s.order, ds.Name)
	}
	return s
}

// Names lists the registered datasets in registration order.
func (s *Service) Names() []string {
	return append([]string(nil), s.order...)
}

func (s *Service) dataset(name string) (Dataset, error) {
	ds, ok := s.datasets[name]
	if !ok {
		return Dataset{}, fmt.Errorf("%w: %s", ErrUnknownDataset, name)
	}
	return ds, nil
}

// ============================================================================
// LOCAL READS
// ============================================================================

// Get returns the cached dataset. Empty tables with defaults are seeded first.
func (s *Service) Get(ctx context.Context, name string) (Snapshot, error) {
	ds, err := s.dataset(name)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Dataset: ds.Name}
	if snap.FetchedAt, err = s.repo.FetchedAt(ctx, ds); err != nil {
		return Snapshot{}, err
	}
	if ds.Singleton() {
		value, ok, err := s.repo.Singleton(ctx, ds)
		if err != nil {
			return Snapshot{}, err
		}
		if ok {
			snap.Value = value
		}
		return snap, nil
	}
	if _, err := s.repo.SeedDefaults(ctx, ds); err != nil {
		return Snapshot{}, fmt.Errorf("seed %s: %w", ds.Name, err)
	}
	if snap.Items, err = s.repo.Items(ctx, ds); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// EnsureDefaults seeds every empty table that declares defaults.
func (s *Service) EnsureDefaults(ctx context.Context) error {
	for _, name := range s.order {
		n, err := s.repo.SeedDefaults(ctx, s.datasets[name])
		if err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
		if n > 0 {
			s.logger.Info("seeded reference defaults", slog.String("dataset", name), slog.Int("rows", n))
		}
	}
	return nil
}

// ============================================================================
// REMOTE FETCH
// ============================================================================

// Fetch downloads one dataset and replaces the cache when the response holds
// usable data. Concurrent fetches of the same dataset share one request.
func (s *Service) Fetch(ctx context.Context, name string) (FetchResult, error) {
	ds, err := s.dataset(name)
	if err != nil {
		return FetchResult{}, err
	}
	v, err, _ := s.group.Do(ds.Name, func() (any, error) {
		tracker := s.metrics.Track(JobName)
		res, err := s.fetch(ctx, ds)
		return res, tracker.End(err)
	})
	res, _ := v.(FetchResult)
	return res, err
}

func (s *Service) fetch(ctx context.Context, ds Dataset) (FetchResult, error) {
	res := FetchResult{Dataset: ds.Name}
	token, err := s.session.RequireToken(ctx)
	if err != nil {
		return res, err
	}
	env, err := retry.DoValue(ctx, s.retry, func(ctx context.Context) (envelope.Envelope, error) {
		return s.api.GetJSON(ctx, ds.Endpoint, nil, token)
	})
	if err != nil {
		if remote.IsAuthError(err) {
			if lerr := s.session.ForceLogout(ctx, err.Error()); lerr != nil {
				s.logger.Error("force logout", slog.Any("error", lerr))
			}
			return res, fmt.Errorf("reference %s: %w: %w", ds.Name, shared.ErrSessionExpired, err)
		}
		return res, fmt.Errorf("reference %s: %w", ds.Name, err)
	}
	if env.Kind == envelope.KindFlagged && !env.Success {
		s.logger.Warn("reference fetch reported failure, keeping cache",
			slog.String("dataset", ds.Name), slog.String("message", env.Message))
		res.Kept = true
		return res, nil
	}

	if ds.Singleton() {
		return s.saveSingleton(ctx, ds, env, res)
	}
	return s.saveTable(ctx, ds, env, res)
}

func (s *Service) saveSingleton(ctx context.Context, ds Dataset, env envelope.Envelope, res FetchResult) (FetchResult, error) {
	doc := envelope.Extract[map[string]any](env.Raw, ds.Paths...)
	payload := doc.Value
	if doc.Path == "" {
		payload = withoutEnvelopeKeys(payload)
	}
	if !doc.OK || len(payload) == 0 {
		s.logger.Warn("reference payload not found, keeping cache", slog.String("dataset", ds.Name))
		res.Kept = true
		return res, nil
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return res, err
	}
	if err := s.repo.SaveSingleton(ctx, ds, value); err != nil {
		return res, fmt.Errorf("save %s: %w", ds.Name, err)
	}
	res.Saved = 1
	s.metrics.AddRecords(JobName, "saved", 1)
	return res, nil
}

// envelopeKeys are wrapper fields that never belong to a settings document.
var envelopeKeys = map[string]bool{
	"success": true,
	"status":  true,
	"message": true,
	"error":   true,
	"errors":  true,
	"data":    true,
	"meta":    true,
	"links":   true,
}

// withoutEnvelopeKeys drops wrapper fields from a root-level document.
func withoutEnvelopeKeys(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if !envelopeKeys[k] {
			out[k] = v
		}
	}
	return out
}

func (s *Service) saveTable(ctx context.Context, ds Dataset, env envelope.Envelope, res FetchResult) (FetchResult, error) {
	records, ok := envelope.ExtractArrayData(env.Raw, ds.Paths...)
	if !ok {
		s.logger.Warn("reference payload has no records, keeping cache", slog.String("dataset", ds.Name))
		res.Kept = true
		return res, nil
	}
	items := make([]Item, 0, len(records))
	for _, rec := range records {
		item, ok := MapItem(ds, rec)
		if !ok {
			res.Skipped++
			continue
		}
		items = append(items, item)
	}
	s.metrics.AddRecords(JobName, "skipped", res.Skipped)

	if len(items) == 0 {
		res.Kept = true
		if _, err := s.repo.SeedDefaults(ctx, ds); err != nil {
			return res, fmt.Errorf("seed %s: %w", ds.Name, err)
		}
		s.logger.Info("reference dataset empty remotely", slog.String("dataset", ds.Name))
		return res, nil
	}
	if err := s.repo.Replace(ctx, ds, items); err != nil {
		return res, fmt.Errorf("replace %s: %w", ds.Name, err)
	}
	res.Saved = len(items)
	s.metrics.AddRecords(JobName, "saved", len(items))
	s.logger.Debug("reference dataset replaced", slog.String("dataset", ds.Name), slog.Int("rows", len(items)))
	return res, nil
}

// FetchAll refreshes every dataset with bounded concurrency. A failing dataset
// is reported and logged; only a rejected session aborts the others.
func (s *Service) FetchAll(ctx context.Context) ([]FetchResult, error) {
	if _, err := s.session.RequireToken(ctx); err != nil {
		return nil, err
	}
	var (
		mu      sync.Mutex
		results = make([]FetchResult, 0, len(s.order))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for _, name := range s.order {
		g.Go(func() error {
			res, err := s.Fetch(gctx, name)
			res.Dataset = name
			if err != nil {
				res.Error = err.Error()
				s.logger.Warn("reference fetch failed", slog.String("dataset", name), slog.Any("error", err))
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			if errors.Is(err, shared.ErrSessionExpired) {
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Dataset < results[j].Dataset })
	return results, err
}

// MapItem converts a remote record, reading each column from the flat field
// or its attributes counterpart. Records without an id are skipped.
func MapItem(ds Dataset, rec any) (Item, bool) {
	m, ok := rec.(map[string]any)
	if !ok {
		return Item{}, false
	}
	id := envelope.ID(m)
	if id == "" {
		return Item{}, false
	}
	item := Item{ID: id, Fields: make(map[string]string, len(ds.Columns))}
	for _, c := range ds.Columns {
		item.Fields[c.Name] = envelope.String(m, "", c.Fields...)
	}
	if raw, err := json.Marshal(m); err == nil {
		item.Raw = raw
	}
	return item, true
}
