package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/robfig/cron/v3"

	jobmetrics "github.com/odyssey-erp/odyssey-pos/internal/jobs"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
)

// ErrUnknownJob is returned by Trigger for a name that was never registered.
var ErrUnknownJob = errors.New("jobs: unknown job")

// CronRegistration wires a cron expression to a named task.
type CronRegistration struct {
	Spec string
	Name string
	Run  func(ctx context.Context) error
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	Location *time.Location
	Cron     []CronRegistration
}

// Worker runs the periodic sync tasks in-process.
type Worker struct {
	cron    *cron.Cron
	logger  *slog.Logger
	metrics *jobmetrics.Metrics

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID
	tasks   map[string]func(context.Context) error
}

// NewWorker constructs a Worker. Registrations with an empty spec are skipped
// so a schedule can be disabled through configuration.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "worker"))
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	clog := cronLogger{logger: logger}
	w := &Worker{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
		logger:  logger,
		metrics: cfg.Metrics,
		ctx:     context.Background(),
		entries: make(map[string]cron.EntryID),
		tasks:   make(map[string]func(context.Context) error),
	}
	for _, entry := range cfg.Cron {
		if entry.Name == "" || entry.Run == nil {
			return nil, errors.New("jobs: registration needs a name and a task")
		}
		if _, dup := w.tasks[entry.Name]; dup {
			return nil, fmt.Errorf("jobs: duplicate job %q", entry.Name)
		}
		w.tasks[entry.Name] = entry.Run
		if entry.Spec == "" {
			continue
		}
		name := entry.Name
		id, err := w.cron.AddFunc(entry.Spec, func() { _ = w.execute(w.runContext(), name) })
		if err != nil {
			return nil, fmt.Errorf("jobs: schedule %s: %w", name, err)
		}
		w.entries[name] = id
	}
	return w, nil
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for
// running tasks to finish.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()

	w.cron.Start()
	w.logger.Info("worker started", slog.Int("jobs", len(w.entries)))
	<-ctx.Done()
	<-w.cron.Stop().Done()
	w.logger.Info("worker stopped")
	return ctx.Err()
}

// Trigger runs a registered task immediately, outside its schedule.
func (w *Worker) Trigger(ctx context.Context, name string) error {
	if _, ok := w.tasks[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return w.execute(ctx, name)
}

func (w *Worker) execute(ctx context.Context, name string) error {
	tracker := w.metrics.Track("worker:" + name)
	err := w.tasks[name](ctx)
	if err != nil {
		w.logger.Error("job failed", slog.String("job", name), slog.Any("error", err))
	}
	return tracker.End(err)
}

func (w *Worker) runContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ctx
}

// EntryInfo describes one scheduled job.
type EntryInfo struct {
	Name string     `json:"name"`
	Next *time.Time `json:"next,omitempty"`
	Prev *time.Time `json:"prev,omitempty"`
}

// Entries lists scheduled jobs sorted by name.
func (w *Worker) Entries() []EntryInfo {
	out := make([]EntryInfo, 0, len(w.entries))
	for name, id := range w.entries {
		e := w.cron.Entry(id)
		info := EntryInfo{Name: name}
		if !e.Next.IsZero() {
			next := e.Next
			info.Next = &next
		}
		if !e.Prev.IsZero() {
			prev := e.Prev
			info.Prev = &prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}

// ============================================================================
// HTTP
// ============================================================================

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	worker *Worker
	logger *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(worker *Worker, logger *slog.Logger) *Handler {
	return &Handler{worker: worker, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/{name}/run", h.run)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	if h.worker == nil {
		httpx.JSON(w, http.StatusOK, map[string]any{"jobs": []EntryInfo{}})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"jobs": h.worker.Entries()})
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	if h.worker == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "worker not running")
		return
	}
	name := chi.URLParam(r, "name")
	err := h.worker.Trigger(r.Context(), name)
	switch {
	case errors.Is(err, ErrUnknownJob):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case err != nil:
		h.logger.Warn("manual job run failed", slog.String("job", name), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Job Failed", err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
