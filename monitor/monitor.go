package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"textguard/textdiff"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// DefaultInterval is the time between two check rounds.
const DefaultInterval = 15 * time.Second

// Failure is a session that did not check clean.
type Failure struct {
	Region textdiff.Region
	Err    error
}

// Violation returns the confirmed violation, or nil for read failures.
func (f Failure) Violation() *textdiff.ViolationReport {
	var report *textdiff.ViolationReport
	if errors.As(f.Err, &report) {
		return report
	}
	return nil
}

// Monitor checks a set of sessions on a timer.
type Monitor struct {
	interval    time.Duration
	maxdop      uint
	onViolation func(textdiff.Region, *textdiff.ViolationReport)
	log         *logger.Logger

	mu       sync.Mutex
	sessions map[uint64]*Session
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the time between two check rounds.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.interval = d
	}
}

// WithMaxDOP caps how many sessions are checked in parallel.
func WithMaxDOP(n uint) Option {
	return func(m *Monitor) {
		m.maxdop = n
	}
}

// WithViolationHandler registers fn to be called for every confirmed
// violation. What happens next, alerting or halting, is up to fn.
func WithViolationHandler(fn func(textdiff.Region, *textdiff.ViolationReport)) Option {
	return func(m *Monitor) {
		m.onViolation = fn
	}
}

// WithLogger sets the monitor logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Monitor) {
		m.log = l
	}
}

// New creates a Monitor with no sessions.
func New(options ...Option) *Monitor {
	m := &Monitor{
		interval: DefaultInterval,
		maxdop:   1,
		sessions: make(map[uint64]*Session),
	}

	for _, opt := range options {
		opt(m)
	}

	if m.log == nil {
		m.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "monitor"))
	}

	return m
}

// Add registers s, replacing any session for the same region base.
func (m *Monitor) Add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.region.Base] = s
}

// Remove stops monitoring the region at base.
func (m *Monitor) Remove(base uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[base]; !ok {
		return false
	}
	delete(m.sessions, base)
	return true
}

// Sessions returns the registered sessions ordered by region base.
func (m *Monitor) Sessions() []*Session {
	m.mu.Lock()
	result := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		result = append(result, s)
	}
	m.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].region.Base < result[j].region.Base
	})
	return result
}

// CheckAll runs one check of every session and returns the ones that failed,
// ordered by region base.
func (m *Monitor) CheckAll(ctx context.Context) []Failure {
	sessions := m.Sessions()

	maxdop := m.maxdop
	if maxdop == 0 {
		maxdop = 1
	}
	if numCPU := uint(runtime.NumCPU()); maxdop > numCPU {
		maxdop = numCPU
	}

	// Create a semaphore to limit concurrency
	sem := make(chan struct{}, maxdop)
	var wg sync.WaitGroup

	var failuresMutex sync.Mutex
	var failures []Failure

	for _, s := range sessions {
		wg.Add(1)
		sem <- struct{}{}

		go func(s *Session) {
			defer wg.Done()
			defer func() { <-sem }()

			err := s.Check(ctx)
			if err == nil {
				return
			}

			failuresMutex.Lock()
			failures = append(failures, Failure{Region: s.region, Err: err})
			failuresMutex.Unlock()
		}(s)
	}

	wg.Wait()

	sort.Slice(failures, func(i, j int) bool {
		return failures[i].Region.Base < failures[j].Region.Base
	})

	for _, f := range failures {
		report := f.Violation()
		if report == nil {
			m.log.Warn("Check failed: ", f.Err)
			continue
		}
		if m.onViolation != nil {
			m.onViolation(f.Region, report)
		}
	}

	return failures
}

// Run checks every session once per interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if m.interval <= 0 {
		return fmt.Errorf("invalid interval %v", m.interval)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Infoln("Monitoring", len(m.Sessions()), "regions every", m.interval)

	for {
		failures := m.CheckAll(ctx)
		m.log.Debugln("Check round complete,", len(failures), "failures")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
