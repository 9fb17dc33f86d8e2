package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/energy-data-ingest/internal/domain"
	"github.com/couchcryptid/energy-data-ingest/internal/observability"
)

// Schedule binds one orchestrator to a cadence. Each run covers the
// trailing interval up to the moment it starts.
type Schedule struct {
	Orchestrator *Orchestrator
	Interval     time.Duration
}

// Manager runs one goroutine per schedule. Sources never block each other:
// a failing run only delays that source's next run, and within one source
// runs are serialized by construction. Stop drains in-flight runs for up to
// the drain timeout, then force-cancels them.
type Manager struct {
	schedules    []Schedule
	drainTimeout time.Duration
	logger       *slog.Logger
	metrics      *observability.Metrics

	mu            sync.Mutex
	scheduleStop  context.CancelFunc
	runStop       context.CancelFunc
	wg            sync.WaitGroup
	running       bool
	runsCompleted atomic.Int64
}

func NewManager(schedules []Schedule, drainTimeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{
		schedules:    schedules,
		drainTimeout: drainTimeout,
		logger:       logger,
		metrics:      metrics,
	}
}

// Start registers all schedules and begins dispatching. Each source runs
// immediately, then on its own cadence.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("streaming manager already started")
	}
	if len(m.schedules) == 0 {
		return errors.New("no schedules registered")
	}

	runCtx, runStop := context.WithCancel(context.Background())
	scheduleCtx, scheduleStop := context.WithCancel(runCtx)
	m.runStop = runStop
	m.scheduleStop = scheduleStop
	m.running = true
	m.metrics.StreamingRunning.Set(1)

	for _, s := range m.schedules {
		m.wg.Add(1)
		go m.dispatch(scheduleCtx, runCtx, s)
	}
	m.logger.Info("streaming started", "sources", len(m.schedules))
	return nil
}

// dispatch serializes runs for one source. scheduleCtx stops new runs;
// runCtx force-cancels an in-flight one.
func (m *Manager) dispatch(scheduleCtx, runCtx context.Context, s Schedule) {
	defer m.wg.Done()
	src := s.Orchestrator.client.Source()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		window := domain.NewWindow(domain.Now().Add(-s.Interval), domain.Now())
		report := s.Orchestrator.Run(runCtx, window)
		m.runsCompleted.Add(1)
		if report.Err != nil {
			m.logger.Warn("scheduled run did not fully succeed",
				"source", src, "status", report.Status, "error", report.Err)
		}

		select {
		case <-scheduleCtx.Done():
			m.logger.Info("schedule stopped", "source", src)
			return
		case <-ticker.C:
		}
	}
}

// Stop stops dispatching and waits for in-flight runs to reach a terminal
// state. Runs still going after the drain timeout are cancelled; their job
// rows are completed as failed by the orchestrator.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	scheduleStop, runStop := m.scheduleStop, m.runStop
	m.mu.Unlock()

	scheduleStop()
	defer m.metrics.StreamingRunning.Set(0)
	defer runStop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("streaming stopped")
		return nil
	case <-time.After(m.drainTimeout):
		runStop()
		<-done
		m.logger.Warn("drain timeout exceeded, in-flight runs cancelled",
			"drain_timeout", m.drainTimeout)
		return fmt.Errorf("drain timeout %s exceeded", m.drainTimeout)
	}
}

// CheckReadiness reports ready once the manager is dispatching and at least
// one run has completed.
func (m *Manager) CheckReadiness(_ context.Context) error {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running {
		return errors.New("streaming manager is not running")
	}
	if m.runsCompleted.Load() == 0 {
		return errors.New("no ingestion run has completed yet")
	}
	return nil
}
