package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/civicwatch/civicwatch/internal/database"
	"github.com/civicwatch/civicwatch/internal/logging"
)

// SuggestionCreator files a merge suggestion for a new incident when warranted
type SuggestionCreator interface {
	CreateIfWarranted(ctx context.Context, incident *database.Incident) (*database.MergeSuggestion, error)
}

// DetectionDispatcher runs post-creation duplicate detection on a bounded pool
// of workers so reporting an incident never waits on embedding calls.
// It implements services.CreationHook.
type DetectionDispatcher struct {
	db      *gorm.DB
	creator SuggestionCreator
	queue   chan database.Incident
	workers int
	logger  *slog.Logger

	mu      sync.RWMutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDetectionDispatcher creates a dispatcher with the given worker count and queue size
func NewDetectionDispatcher(db *gorm.DB, creator SuggestionCreator, workers, queueSize int) *DetectionDispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &DetectionDispatcher{
		db:      db,
		creator: creator,
		queue:   make(chan database.Incident, queueSize),
		workers: workers,
		logger:  logging.Component("detection_dispatcher"),
	}
}

// Start launches the workers. They run until Stop is called or ctx is done.
func (d *DetectionDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.logger.Info("detection dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
}

// IncidentCreated queues the incident for detection. It never blocks: when the
// queue is full the incident is left for the periodic rescan.
func (d *DetectionDispatcher) IncidentCreated(incident database.Incident) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return
	}
	select {
	case d.queue <- incident:
	default:
		d.logger.Warn("detection queue full, deferring to rescan", "incident_id", incident.ID)
	}
}

// Stop drains the queue and waits for in-flight detections to finish
func (d *DetectionDispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if started {
		d.wg.Wait()
		d.cancel()
	}
	d.logger.Info("detection dispatcher stopped")
}

func (d *DetectionDispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case incident, ok := <-d.queue:
			if !ok {
				return
			}
			d.process(ctx, incident)
		case <-ctx.Done():
			return
		}
	}
}

// process runs one detection. Failures are logged, never surfaced.
func (d *DetectionDispatcher) process(ctx context.Context, incident database.Incident) {
	ctx = logging.WithLogFields(ctx, logging.LogFields{IncidentID: incident.ID})

	settings, err := database.GetOrCreateDedupJobSettings(d.db.WithContext(ctx))
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to load job settings", "error", err)
		settings = database.NewDefaultDedupJobSettings()
	}
	if !settings.AutoSuggestEnabled {
		return
	}

	timeout := time.Duration(settings.DetectionTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	suggestion, err := d.creator.CreateIfWarranted(jobCtx, &incident)
	if err != nil {
		d.logger.WarnContext(ctx, "background duplicate detection failed", "error", err)
		return
	}
	if suggestion != nil {
		d.logger.InfoContext(ctx, "background detection suggested a merge",
			"suggestion_id", suggestion.ID, "took", time.Since(start))
	}
}
