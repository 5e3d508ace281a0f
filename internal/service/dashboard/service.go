package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cmlabs-hris/attendance-dashboard/internal/domain/dashboard"
	"github.com/cmlabs-hris/attendance-dashboard/internal/pkg/backend"
	"github.com/cmlabs-hris/attendance-dashboard/internal/pkg/cron"
	"github.com/cmlabs-hris/attendance-dashboard/internal/pkg/sse"
	"github.com/cmlabs-hris/attendance-dashboard/internal/pkg/validator"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Topic is the hub topic state snapshots are published on
const Topic = "dashboard"

// Event names pushed to subscribers
const (
	EventState = "state"
)

const refreshJobName = "refresh_view"

type Config struct {
	// PollInterval is the period of the refresh timer
	PollInterval time.Duration

	// ConfirmStatus makes start/stop wait for the backend status endpoint to agree
	ConfirmStatus bool

	// ConfirmTimeout bounds how long a pending start/stop waits for confirmation
	ConfirmTimeout time.Duration
}

// DefaultConfig polls every 5 seconds without status confirmation
func DefaultConfig() Config {
	return Config{
		PollInterval:   5 * time.Second,
		ConfirmTimeout: 15 * time.Second,
	}
}

type DashboardServiceImpl struct {
	backend dashboard.BackendClient
	store   dashboard.ExportStore
	hub     *sse.Hub
	clock   clockwork.Clock
	logger  *slog.Logger
	cfg     Config

	mu    sync.Mutex
	state dashboard.ViewState

	// generation increments per refresh cycle; only the newest cycle may commit
	generation     uint64
	cancelInFlight context.CancelFunc

	// awaitingConfirm is set once a command succeeded and the status poll must confirm it
	awaitingConfirm bool
	pendingSince    time.Time

	scheduler *cron.Scheduler
	unmounted bool
}

var _ dashboard.Controller = (*DashboardServiceImpl)(nil)

// NewDashboardService creates the polling view controller.
// clock and logger may be nil.
func NewDashboardService(
	backendClient dashboard.BackendClient,
	store dashboard.ExportStore,
	hub *sse.Hub,
	clock clockwork.Clock,
	logger *slog.Logger,
	cfg Config,
) *DashboardServiceImpl {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if hub == nil {
		hub = sse.NewHub(0)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfig().ConfirmTimeout
	}

	s := &DashboardServiceImpl{
		backend: backendClient,
		store:   store,
		hub:     hub,
		clock:   clock,
		logger:  logger.With(slog.String("component", "dashboard")),
		cfg:     cfg,
		state: dashboard.ViewState{
			// UTC calendar day, the same "today" a browser's toISOString yields
			SelectedDate: clock.Now().UTC().Format(dashboard.DateLayout),
			SystemStatus: dashboard.StatusStopped,
			Attendance:   []dashboard.AttendanceEntry{},
			Analytics:    []dashboard.AnalyticsPoint{},
			Unauthorized: []dashboard.UnauthorizedEntry{},
		},
	}
	s.publishLocked()
	return s
}

// ========== LIFECYCLE ==========

// Mount starts the refresh timer. The first refresh runs immediately.
func (s *DashboardServiceImpl) Mount(ctx context.Context) error {
	s.mu.Lock()
	if s.scheduler != nil {
		s.mu.Unlock()
		return dashboard.ErrAlreadyMounted
	}
	s.unmounted = false

	scheduler := cron.NewScheduler(s.clock, s.logger)
	scheduler.AddJob(refreshJobName, s.cfg.PollInterval, s.refreshJob)
	s.scheduler = scheduler
	s.mu.Unlock()

	scheduler.Start(ctx)
	s.logger.Info("Dashboard mounted", "poll_interval", s.cfg.PollInterval)
	return nil
}

// Unmount stops the timer and cancels the cycle in flight. Late results are dropped.
func (s *DashboardServiceImpl) Unmount() {
	s.mu.Lock()
	scheduler := s.scheduler
	s.scheduler = nil
	s.unmounted = true
	if s.cancelInFlight != nil {
		s.cancelInFlight()
	}
	s.mu.Unlock()

	if scheduler != nil {
		scheduler.Stop()
	}
	s.logger.Info("Dashboard unmounted")
}

// refreshJob adapts Refresh for the scheduler; failures are already logged by refresh
func (s *DashboardServiceImpl) refreshJob(ctx context.Context) error {
	_ = s.Refresh(ctx)
	return nil
}

// ========== REFRESH ==========

// Refresh runs one refresh cycle unless one is already in flight
func (s *DashboardServiceImpl) Refresh(ctx context.Context) error {
	return s.refresh(ctx, false)
}

// ForceRefresh runs one refresh cycle, superseding the cycle in flight
func (s *DashboardServiceImpl) ForceRefresh(ctx context.Context) error {
	return s.refresh(ctx, true)
}

// SelectDate changes the selected date and refreshes for it immediately
func (s *DashboardServiceImpl) SelectDate(ctx context.Context, date string) error {
	if _, ok := validator.IsValidDate(date); !ok {
		return dashboard.ErrInvalidDate
	}

	s.mu.Lock()
	if s.unmounted {
		s.mu.Unlock()
		return dashboard.ErrUnmounted
	}
	changed := s.state.SelectedDate != date
	s.state.SelectedDate = date
	if changed {
		s.publishLocked()
	}
	s.mu.Unlock()

	s.logger.Info("Dashboard date selected", "date", date)
	return s.refresh(ctx, true)
}

type refreshResult struct {
	attendance   []dashboard.AttendanceEntry
	analytics    []dashboard.AnalyticsPoint
	unauthorized []dashboard.UnauthorizedEntry
	status       dashboard.BackendStatus
}

func (s *DashboardServiceImpl) refresh(ctx context.Context, supersede bool) error {
	s.mu.Lock()
	if s.unmounted {
		s.mu.Unlock()
		return dashboard.ErrUnmounted
	}
	if s.cancelInFlight != nil {
		if !supersede {
			s.mu.Unlock()
			s.logger.Debug("Refresh skipped, previous cycle still in flight")
			return dashboard.ErrRefreshInFlight
		}
		s.cancelInFlight()
	}

	s.generation++
	gen := s.generation
	date := s.state.SelectedDate
	confirm := s.cfg.ConfirmStatus && s.awaitingConfirm
	cycleCtx, cancel := context.WithCancel(ctx)
	s.cancelInFlight = cancel
	s.mu.Unlock()
	defer cancel()

	refreshID := uuid.NewString()
	start := s.clock.Now()

	res, err := s.fetch(cycleCtx, date, confirm)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen == s.generation {
		s.cancelInFlight = nil
	}
	if s.unmounted {
		return dashboard.ErrUnmounted
	}
	if gen != s.generation {
		s.logger.Debug("Refresh dropped, superseded by newer cycle", "refresh_id", refreshID, "date", date)
		return dashboard.ErrRefreshSuperseded
	}

	now := s.clock.Now()
	if err != nil {
		if cycleCtx.Err() != nil && errors.Is(err, context.Canceled) {
			return err
		}
		s.logger.Error("Refresh failed", "refresh_id", refreshID, "date", date, "error", err, "duration", now.Sub(start))
		s.recordErrorLocked(dashboard.OpRefresh, classify(err), err)
		s.expirePendingLocked(now)
		s.publishLocked()
		return err
	}

	s.state.Attendance = res.attendance
	s.state.Analytics = res.analytics
	s.state.Unauthorized = res.unauthorized
	s.state.LastRefreshedAt = now
	s.state.RefreshID = refreshID
	s.clearErrorLocked(dashboard.OpRefresh)
	if confirm {
		s.confirmPendingLocked(res.status)
	}
	s.expirePendingLocked(now)
	s.publishLocked()

	s.logger.Debug("Refresh completed",
		"refresh_id", refreshID,
		"date", date,
		"attendance", len(res.attendance),
		"analytics", len(res.analytics),
		"unauthorized", len(res.unauthorized),
		"duration", now.Sub(start),
	)
	return nil
}

// fetch issues the reads of one cycle concurrently. Any failure cancels the rest.
func (s *DashboardServiceImpl) fetch(ctx context.Context, date string, withStatus bool) (refreshResult, error) {
	var res refreshResult
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		entries, err := s.backend.GetAttendance(gCtx, date)
		if err != nil {
			return fmt.Errorf("attendance: %w", err)
		}
		res.attendance = entries
		return nil
	})

	g.Go(func() error {
		points, err := s.backend.GetAnalytics(gCtx)
		if err != nil {
			return fmt.Errorf("analytics: %w", err)
		}
		res.analytics = points
		return nil
	})

	g.Go(func() error {
		entries, err := s.backend.GetUnauthorized(gCtx)
		if err != nil {
			return fmt.Errorf("unauthorized: %w", err)
		}
		res.unauthorized = entries
		return nil
	})

	if withStatus {
		g.Go(func() error {
			st, err := s.backend.Status(gCtx)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			res.status = st
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return refreshResult{}, err
	}
	return res, nil
}

// ========== CONTROL COMMANDS ==========

// Start sends the start command. Valid only while stopped.
func (s *DashboardServiceImpl) Start(ctx context.Context) error {
	return s.command(ctx, dashboard.OpStart, dashboard.StatusStopped, dashboard.StatusStarting, s.backend.Start)
}

// Stop sends the stop command. Valid only while started.
func (s *DashboardServiceImpl) Stop(ctx context.Context) error {
	return s.command(ctx, dashboard.OpStop, dashboard.StatusStarted, dashboard.StatusStopping, s.backend.Stop)
}

func (s *DashboardServiceImpl) command(
	ctx context.Context,
	op string,
	from, pending dashboard.SystemStatus,
	send func(context.Context) error,
) error {
	s.mu.Lock()
	if s.unmounted {
		s.mu.Unlock()
		return dashboard.ErrUnmounted
	}
	if s.state.SystemStatus != from {
		current := s.state.SystemStatus
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot %s while %s", dashboard.ErrInvalidTransition, op, current)
	}
	s.state.SystemStatus = pending
	s.awaitingConfirm = false
	s.publishLocked()
	s.mu.Unlock()

	err := send(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unmounted {
		return err
	}

	if err != nil {
		s.state.SystemStatus = from
		if !errors.Is(err, context.Canceled) {
			s.recordErrorLocked(op, classify(err), err)
		}
		s.publishLocked()
		s.logger.Error("Control command failed", "op", op, "error", err)
		return err
	}

	s.clearErrorLocked(op)
	if s.cfg.ConfirmStatus {
		s.awaitingConfirm = true
		s.pendingSince = s.clock.Now()
		s.logger.Info("Control command sent, awaiting confirmation", "op", op, "status", pending)
	} else {
		s.state.SystemStatus = pending.Target()
		s.logger.Info("Control command sent", "op", op, "status", s.state.SystemStatus)
	}
	s.publishLocked()
	return nil
}

// confirmPendingLocked settles a pending transition when the backend agrees with it
func (s *DashboardServiceImpl) confirmPendingLocked(st dashboard.BackendStatus) {
	if !s.awaitingConfirm || !s.state.SystemStatus.Pending() {
		return
	}
	target := s.state.SystemStatus.Target()
	if st.Running == (target == dashboard.StatusStarted) {
		s.state.SystemStatus = target
		s.awaitingConfirm = false
		s.logger.Info("Control command confirmed", "status", target)
	}
}

// expirePendingLocked reverts a pending transition the backend never confirmed
func (s *DashboardServiceImpl) expirePendingLocked(now time.Time) {
	if !s.awaitingConfirm || !s.state.SystemStatus.Pending() {
		return
	}
	if now.Sub(s.pendingSince) < s.cfg.ConfirmTimeout {
		return
	}

	pending := s.state.SystemStatus
	op := dashboard.OpStart
	revert := dashboard.StatusStopped
	if pending == dashboard.StatusStopping {
		op = dashboard.OpStop
		revert = dashboard.StatusStarted
	}

	s.state.SystemStatus = revert
	s.awaitingConfirm = false
	s.state.LastError = &dashboard.ErrorState{
		Kind:    dashboard.KindUnconfirmed,
		Op:      op,
		Message: fmt.Sprintf("backend did not confirm %s within %s", op, s.cfg.ConfirmTimeout),
		At:      now,
	}
	s.logger.Warn("Control command unconfirmed, reverting", "op", op, "status", revert)
}

// ========== EXPORT ==========

// Export downloads an export of the selected date into the export store
func (s *DashboardServiceImpl) Export(ctx context.Context, format dashboard.ExportFormat) (dashboard.ExportResult, error) {
	if !isExportFormat(format) {
		return dashboard.ExportResult{}, dashboard.ErrInvalidExportFormat
	}

	s.mu.Lock()
	date := s.state.SelectedDate
	s.mu.Unlock()

	payload, err := s.backend.Export(ctx, format, date)
	if err != nil {
		s.exportFailed(format, date, classify(err), err)
		return dashboard.ExportResult{}, err
	}
	defer payload.Body.Close()

	filename := dashboard.ExportFilename(date, format)
	body := &countingReader{r: payload.Body}
	path, err := s.store.Upload(ctx, body, filename, payload.ContentType)
	if err != nil {
		kind := dashboard.KindStorage
		if body.err != nil {
			kind = dashboard.KindNetwork
		}
		s.exportFailed(format, date, kind, err)
		return dashboard.ExportResult{}, err
	}

	url, err := s.store.GetURL(ctx, path)
	if err != nil {
		// an export nobody can reach is not kept
		if derr := s.store.Delete(context.WithoutCancel(ctx), path); derr != nil {
			s.logger.Warn("Failed to remove unreachable export", "file", path, "error", derr)
		}
		s.exportFailed(format, date, dashboard.KindStorage, err)
		return dashboard.ExportResult{}, err
	}

	s.mu.Lock()
	if s.clearErrorLocked(dashboard.OpExport) {
		s.publishLocked()
	}
	s.mu.Unlock()

	s.logger.Info("Attendance exported", "format", format, "date", date, "file", path, "bytes", body.n)
	return dashboard.ExportResult{
		Filename:    filename,
		Path:        path,
		URL:         url,
		ContentType: payload.ContentType,
		Size:        body.n,
		Date:        date,
		Format:      format,
	}, nil
}

func (s *DashboardServiceImpl) exportFailed(format dashboard.ExportFormat, date string, kind dashboard.ErrorKind, err error) {
	s.logger.Error("Export failed", "format", format, "date", date, "error", err)
	if errors.Is(err, context.Canceled) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unmounted {
		return
	}
	s.recordErrorLocked(dashboard.OpExport, kind, err)
	s.publishLocked()
}

func isExportFormat(format dashboard.ExportFormat) bool {
	for _, f := range dashboard.ExportFormats {
		if f == format {
			return true
		}
	}
	return false
}

// countingReader counts bytes and remembers read failures, which come from the backend
type countingReader struct {
	r   io.Reader
	n   int64
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil && err != io.EOF {
		c.err = err
	}
	return n, err
}

// ========== STATE ==========

// State returns a copy of the current view state
func (s *DashboardServiceImpl) State() dashboard.ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe streams snapshots; the current one is delivered first
func (s *DashboardServiceImpl) Subscribe(ctx context.Context) (<-chan dashboard.StateEvent, func()) {
	ch, unsubscribe := s.hub.Subscribe(Topic)
	s.logger.Debug("Dashboard subscriber connected", "subscribers", s.hub.SubscriberCount(Topic))

	cleanup := func() {
		unsubscribe()
		s.logger.Debug("Dashboard subscriber disconnected", "subscribers", s.hub.SubscriberCount(Topic))
	}

	out := make(chan dashboard.StateEvent, 10)

	go func() {
		defer close(out)
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				resp, ok := event.Data.(dashboard.StateResponse)
				if !ok {
					continue
				}
				select {
				case out <- dashboard.StateEvent{Event: event.Event, Data: resp}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, cleanup
}

func (s *DashboardServiceImpl) publishLocked() {
	s.hub.Publish(sse.Event{
		Topic: Topic,
		Event: EventState,
		Data:  dashboard.NewStateResponse(s.state),
	})
}

func (s *DashboardServiceImpl) recordErrorLocked(op string, kind dashboard.ErrorKind, err error) {
	s.state.LastError = &dashboard.ErrorState{
		Kind:    kind,
		Op:      op,
		Message: err.Error(),
		At:      s.clock.Now(),
	}
}

// clearErrorLocked clears the error slot if it belongs to op
func (s *DashboardServiceImpl) clearErrorLocked(op string) bool {
	if s.state.LastError == nil || s.state.LastError.Op != op {
		return false
	}
	s.state.LastError = nil
	return true
}

// classify maps a backend failure to its error kind
func classify(err error) dashboard.ErrorKind {
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &apiErr):
		return dashboard.KindStatus
	case errors.Is(err, backend.ErrDecode):
		return dashboard.KindDecode
	default:
		return dashboard.KindNetwork
	}
}
