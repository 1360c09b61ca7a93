package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/edge-authorizer/authz"
	"github.com/upb/edge-authorizer/models"
	"github.com/upb/edge-authorizer/repositories"
	"go.uber.org/zap"
)

// DecisionEvent is a decision waiting to be persisted
type DecisionEvent struct {
	Log *models.DecisionLog
}

// AuditService persists authorization decisions asynchronously.
// Events are queued on a buffered channel and written by a fixed pool of
// workers; when the buffer is full new events are dropped, never blocking
// the request path.
type AuditService struct {
	repo        repositories.DecisionRepository
	logger      *zap.Logger
	eventChan   chan *DecisionEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.Mutex

	recorded atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repositories.DecisionRepository, logger *zap.Logger, config Config) *AuditService {
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}

	return &AuditService{
		repo:        repo,
		logger:      logger,
		eventChan:   make(chan *DecisionEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting events and waits for the queued ones to be written
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully",
			zap.Int64("recorded", s.recorded.Load()),
			zap.Int64("dropped", s.dropped.Load()))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent queues an event without blocking
func (s *AuditService) LogEvent(event *DecisionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return fmt.Errorf("audit service not running")
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("effect", string(event.Log.Effect)),
			zap.String("principal_id", event.Log.PrincipalID))
		return fmt.Errorf("audit event buffer full")
	}
}

// Record implements authz.DecisionRecorder
func (s *AuditService) Record(ctx context.Context, decision authz.Decision, meta authz.Metadata) {
	if err := s.LogEvent(&DecisionEvent{Log: NewDecisionLog(decision, meta)}); err != nil {
		s.logger.Debug("decision not queued for audit", zap.Error(err))
	}
}

func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.failed.Add(1)
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("decision_id", event.Log.ID.String()))
			continue
		}
		s.recorded.Add(1)
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *AuditService) processEvent(event *DecisionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.repo.Insert(ctx, event.Log); err != nil {
		return fmt.Errorf("failed to insert decision log: %w", err)
	}

	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
		Recorded:      s.recorded.Load(),
		Dropped:       s.dropped.Load(),
		Failed:        s.failed.Load(),
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int   `json:"buffer_size"`
	PendingEvents int   `json:"pending_events"`
	WorkerCount   int   `json:"worker_count"`
	Started       bool  `json:"started"`
	Recorded      int64 `json:"recorded"`
	Dropped       int64 `json:"dropped"`
	Failed        int64 `json:"failed"`
}

// SyncRecorder writes each decision before returning. Use it where
// background goroutines may not outlive the invocation, as in Lambda.
type SyncRecorder struct {
	repo    repositories.DecisionRepository
	logger  *zap.Logger
	timeout time.Duration
}

// NewSyncRecorder creates a recorder that inserts inline
func NewSyncRecorder(repo repositories.DecisionRepository, logger *zap.Logger) *SyncRecorder {
	return &SyncRecorder{repo: repo, logger: logger, timeout: 2 * time.Second}
}

// Record implements authz.DecisionRecorder. Failures are logged and swallowed.
func (r *SyncRecorder) Record(ctx context.Context, decision authz.Decision, meta authz.Metadata) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	log := NewDecisionLog(decision, meta)
	if err := r.repo.Insert(ctx, log); err != nil {
		r.logger.Error("failed to record decision",
			zap.Error(err),
			zap.String("decision_id", log.ID.String()))
	}
}

// NewDecisionLog converts a decision to its audit record
func NewDecisionLog(decision authz.Decision, meta authz.Metadata) *models.DecisionLog {
	effect := models.DecisionDeny
	if decision.Allowed() {
		effect = models.DecisionAllow
	}

	log := models.NewDecisionLog(effect, decision.PrincipalID, decision.Resource).
		WithReason(string(decision.Reason)).
		WithRequest(meta.RequestID, meta.SourceIP, meta.UserAgent)
	if decision.Token != nil {
		log.WithToken(decision.Token.KeyID, decision.Token.Issuer)
	}

	return log
}
