// Package sweep runs every rule evaluator over all open cases and the
// auxiliary domains on a timer, persisting what they find.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/rules"
)

const (
	DefaultInterval = 15 * time.Minute
	DefaultWorkers  = 4
)

type CaseSource interface {
	ListOpenCases(ctx context.Context) ([]domain.Case, error)
}

type ContextBuilder interface {
	BuildCaseContext(ctx context.Context, caseID string, now time.Time) (rules.CaseContext, error)
	BuildAuxContext(ctx context.Context, now time.Time) (rules.AuxContext, error)
}

type AlertStore interface {
	Persist(ctx context.Context, caseID string, cands []rules.Candidate) ([]domain.Alert, error)
	MarkBreached(ctx context.Context, source domain.AlertSource) (int, error)
}

type EventLogger interface {
	Log(ctx context.Context, e events.Entry)
}

// Failure records one step of a sweep that did not complete.
type Failure struct {
	CaseID string `json:"case_id,omitempty"`
	Phase  string `json:"phase"`
	Error  string `json:"error"`
}

// Report summarises one sweep.
type Report struct {
	StartedAt     time.Time      `json:"started_at" format:"date-time"`
	FinishedAt    time.Time      `json:"finished_at" format:"date-time"`
	Cases         int            `json:"cases"`
	Evaluated     int            `json:"evaluated"`
	Skipped       int            `json:"skipped"`
	AlertsCreated int            `json:"alerts_created"`
	AuxCreated    int            `json:"aux_alerts_created"`
	Breached      map[string]int `json:"breached"`
	Failures      []Failure      `json:"failures,omitempty"`
	Cancelled     bool           `json:"cancelled,omitempty"`
}

type Options struct {
	Cases    CaseSource
	Contexts ContextBuilder
	Alerts   AlertStore
	Events   EventLogger
	Rules    rules.Config
	Interval time.Duration
	Workers  int
	Locker   Locker
	Logger   *slog.Logger
	Now      func() time.Time
}

type Scheduler struct {
	cases    CaseSource
	contexts ContextBuilder
	alerts   AlertStore
	events   EventLogger
	rules    rules.Config
	interval time.Duration
	workers  int
	locker   Locker
	logger   *slog.Logger
	now      func() time.Time
	metrics  metrics

	mu   sync.Mutex
	last *Report
}

func New(opts Options) *Scheduler {
	s := &Scheduler{
		cases:    opts.Cases,
		contexts: opts.Contexts,
		alerts:   opts.Alerts,
		events:   opts.Events,
		rules:    opts.Rules,
		interval: opts.Interval,
		workers:  opts.Workers,
		locker:   opts.Locker,
		logger:   opts.Logger,
		now:      opts.Now,
		metrics:  newMetrics(),
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.workers <= 0 {
		s.workers = DefaultWorkers
	}
	if s.locker == nil {
		s.locker = &LocalLocker{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// LastReport returns the most recent completed sweep, if any.
func (s *Scheduler) LastReport() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

// Run sweeps immediately and then once per interval until ctx is done. A
// sweep in flight when ctx ends finishes its current cases first.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "sweep scheduler started", "interval", s.interval.String(), "workers", s.workers)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunSweep(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
			s.logger.ErrorContext(ctx, "sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.InfoContext(context.WithoutCancel(ctx), "sweep scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

type caseResult struct {
	caseID  string
	created int
	skipped bool
	err     error
	phase   string
}

// RunSweep performs one complete sweep. Failures in individual cases or
// steps are recorded in the report and never abort the sweep; the only
// error returned is ErrSweepInProgress or a lock failure.
func (s *Scheduler) RunSweep(ctx context.Context) (Report, error) {
	release, ok, err := s.locker.TryLock(ctx)
	if err != nil {
		return Report{}, err
	}
	if !ok {
		return Report{}, ErrSweepInProgress
	}
	defer release()

	// writes already started are allowed to finish after ctx is cancelled
	writeCtx := context.WithoutCancel(ctx)
	now := s.now().UTC()
	report := Report{StartedAt: now, Breached: map[string]int{}}

	s.markBreached(writeCtx, &report)

	cases, err := s.cases.ListOpenCases(ctx)
	if err != nil {
		report.Failures = append(report.Failures, Failure{Phase: "list_cases", Error: err.Error()})
		s.logger.ErrorContext(ctx, "sweep could not list open cases", "error", err)
	}
	report.Cases = len(cases)

	results := make(chan caseResult, len(cases))
	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for _, c := range cases {
		if ctx.Err() != nil {
			results <- caseResult{caseID: c.ID, skipped: true}
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				results <- caseResult{caseID: c.ID, skipped: true}
				return nil
			}
			results <- s.sweepCase(writeCtx, c, now)
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	for r := range results {
		switch {
		case r.skipped:
			report.Skipped++
		default:
			report.Evaluated++
			report.AlertsCreated += r.created
		}
		if r.err != nil {
			report.Failures = append(report.Failures, Failure{CaseID: r.caseID, Phase: r.phase, Error: r.err.Error()})
			s.logger.WarnContext(writeCtx, "sweep case failed", "case_id", r.caseID, "phase", r.phase, "error", r.err)
		}
	}

	if ctx.Err() == nil {
		s.sweepAux(writeCtx, now, &report)
	} else {
		report.Cancelled = true
	}

	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].CaseID < report.Failures[j].CaseID })
	report.FinishedAt = s.now().UTC()
	s.mu.Lock()
	last := report
	s.last = &last
	s.mu.Unlock()

	s.metrics.record(writeCtx, report)
	s.logger.InfoContext(writeCtx, "sweep completed",
		"cases", report.Cases,
		"evaluated", report.Evaluated,
		"skipped", report.Skipped,
		"alerts_created", report.AlertsCreated+report.AuxCreated,
		"failures", len(report.Failures),
		"duration", report.FinishedAt.Sub(report.StartedAt).String(),
	)
	if s.events != nil {
		s.events.Log(writeCtx, events.Entry{
			Type:       events.SweepCompleted,
			EntityKind: "sweep",
			Payload: events.Payload{
				"cases":          report.Cases,
				"evaluated":      report.Evaluated,
				"alerts_created": report.AlertsCreated + report.AuxCreated,
				"failures":       len(report.Failures),
				"cancelled":      report.Cancelled,
			},
		})
	}
	return report, nil
}

func (s *Scheduler) markBreached(ctx context.Context, report *Report) {
	sources := []domain.AlertSource{domain.SourceAutomation, domain.SourceCompliance}
	counts := make([]int, len(sources))
	errs := make([]error, len(sources))
	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			counts[i], errs[i] = s.alerts.MarkBreached(ctx, src)
			return nil
		})
	}
	_ = g.Wait()
	for i, src := range sources {
		if errs[i] != nil {
			report.Failures = append(report.Failures, Failure{Phase: "breach_" + string(src), Error: errs[i].Error()})
			s.logger.ErrorContext(ctx, "mark breached failed", "source", src, "error", errs[i])
			continue
		}
		report.Breached[string(src)] = counts[i]
	}
}

// sweepCase evaluates and persists one case. It never panics.
func (s *Scheduler) sweepCase(ctx context.Context, c domain.Case, now time.Time) (res caseResult) {
	res.caseID = c.ID
	defer func() {
		if p := recover(); p != nil {
			res.err = fmt.Errorf("panic: %v", p)
			res.phase = "evaluate"
		}
	}()
	cc, err := s.contexts.BuildCaseContext(ctx, c.ID, now)
	if err != nil {
		res.err, res.phase = err, "context"
		return res
	}
	var errs []error
	for _, set := range [][]rules.CaseRule{rules.AutomationRules(), rules.ComplianceRules()} {
		cands, evalErr := s.rules.EvaluateCase(set, cc)
		if evalErr != nil {
			errs = append(errs, evalErr)
			res.phase = "evaluate"
		}
		created, err := s.alerts.Persist(ctx, c.ID, cands)
		res.created += len(created)
		if err != nil {
			errs = append(errs, err)
			res.phase = "persist"
		}
	}
	res.err = errors.Join(errs...)
	return res
}

// sweepAux runs the cross-case evaluators once and persists their alerts
// grouped by the case they reference; alerts with no case are global.
func (s *Scheduler) sweepAux(ctx context.Context, now time.Time, report *Report) {
	ac, err := s.contexts.BuildAuxContext(ctx, now)
	if err != nil {
		report.Failures = append(report.Failures, Failure{Phase: "aux_context", Error: err.Error()})
		s.logger.ErrorContext(ctx, "aux context failed", "error", err)
		return
	}
	cands, err := s.rules.EvaluateAux(rules.AuxRules(), ac)
	if err != nil {
		report.Failures = append(report.Failures, Failure{Phase: "aux_evaluate", Error: err.Error()})
		s.logger.ErrorContext(ctx, "aux evaluation failed", "error", err)
	}
	groups := map[string][]rules.Candidate{}
	for _, c := range cands {
		groups[c.CaseID] = append(groups[c.CaseID], c)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, caseID := range keys {
		created, err := s.alerts.Persist(ctx, caseID, groups[caseID])
		report.AuxCreated += len(created)
		if err != nil {
			report.Failures = append(report.Failures, Failure{CaseID: caseID, Phase: "aux_persist", Error: err.Error()})
			s.logger.WarnContext(ctx, "aux persist failed", "case_id", caseID, "error", err)
		}
	}
}
