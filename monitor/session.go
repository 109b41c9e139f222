// Package monitor periodically validates registered code regions against
// their baselines.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"textguard/snapshot"
	"textguard/textdiff"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// DefaultRetries is how many times a violation is re-checked against a fresh
// copy before it is confirmed. A legitimate patch racing with the read can
// produce a spurious difference once.
const DefaultRetries = 1

// Stats counts what a session has seen.
type Stats struct {
	Checks     uint64
	Patches    uint64
	Retries    uint64
	Violations uint64
	LastCheck  time.Time
}

// Session owns the baseline of one code region. Checks of a session are
// serialized.
type Session struct {
	region  textdiff.Region
	src     snapshot.Source
	cmp     *textdiff.Comparator
	retries int
	log     *logger.Logger

	mu       sync.Mutex
	baseline []byte

	checks     atomic.Uint64
	patches    atomic.Uint64
	retried    atomic.Uint64
	violations atomic.Uint64
	lastCheck  atomic.Int64
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRetries sets how many fresh re-reads a violation gets before it is
// confirmed.
func WithRetries(n int) SessionOption {
	return func(s *Session) {
		s.retries = max(n, 0)
	}
}

// WithSessionLogger sets the session logger.
func WithSessionLogger(l *logger.Logger) SessionOption {
	return func(s *Session) {
		s.log = l
	}
}

// NewSession creates a session for region with baseline as its known good
// contents. The session takes ownership of baseline.
func NewSession(region textdiff.Region, baseline []byte, src snapshot.Source, cmp *textdiff.Comparator, options ...SessionOption) (*Session, error) {
	if len(baseline) != region.Length {
		return nil, fmt.Errorf("%w: baseline %d, region %d", textdiff.ErrLengthMismatch, len(baseline), region.Length)
	}
	if region.Length < textdiff.JumpSize {
		return nil, fmt.Errorf("%w: %d bytes", textdiff.ErrRegionTooSmall, region.Length)
	}

	s := &Session{
		region:   region,
		src:      src,
		cmp:      cmp,
		retries:  DefaultRetries,
		baseline: baseline,
	}

	for _, opt := range options {
		opt(s)
	}

	if s.log == nil {
		s.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("region-0x%x", region.Base)))
	}

	return s, nil
}

// Capture creates a session whose baseline is read from src right now.
func Capture(ctx context.Context, region textdiff.Region, src snapshot.Source, cmp *textdiff.Comparator, options ...SessionOption) (*Session, error) {
	baseline, err := src.Read(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("failed to capture baseline: %w", err)
	}

	return NewSession(region, baseline, src, cmp, options...)
}

// Region returns the monitored region.
func (s *Session) Region() textdiff.Region {
	return s.region
}

// Baseline returns a copy of the current baseline.
func (s *Session) Baseline() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.baseline...)
}

// Stats returns the session counters.
func (s *Session) Stats() Stats {
	st := Stats{
		Checks:     s.checks.Load(),
		Patches:    s.patches.Load(),
		Retries:    s.retried.Load(),
		Violations: s.violations.Load(),
	}
	if ns := s.lastCheck.Load(); ns != 0 {
		st.LastCheck = time.Unix(0, ns)
	}
	return st
}

// Check reads the region and compares it with the baseline. A violation is
// only returned once it survived every retry with a freshly read copy; the
// returned error is then a *textdiff.ViolationReport. Read failures are
// returned wrapped and do not count as violations.
func (s *Session) Check(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checks.Add(1)
	s.lastCheck.Store(time.Now().UnixNano())

	for attempt := 0; ; attempt++ {
		live, err := s.src.Read(ctx, s.region)
		if err != nil {
			return fmt.Errorf("region 0x%x: %w", s.region.Base, err)
		}

		patches, err := s.cmp.Reconcile(live, s.baseline, s.region)
		s.patches.Add(uint64(len(patches)))
		if err == nil {
			return nil
		}

		var report *textdiff.ViolationReport
		if !errors.As(err, &report) {
			return fmt.Errorf("region 0x%x: %w", s.region.Base, err)
		}

		if attempt >= s.retries {
			s.violations.Add(1)
			s.log.Warn("Confirmed violation after ", attempt+1, " reads: ", report)
			return report
		}

		s.retried.Add(1)
		s.log.Infoln("Provisional violation at offset", fmt.Sprintf("0x%x", report.Offset), "re-reading region")
	}
}
