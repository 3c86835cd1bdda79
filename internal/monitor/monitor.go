// Package monitor runs the discovery, verification and alerting cycle.
package monitor

import (
	"context"
	"log"
	"math/rand/v2"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/coachpo/stockwatch/errs"
	"github.com/coachpo/stockwatch/internal/catalog"
	"github.com/coachpo/stockwatch/internal/notify"
	"github.com/coachpo/stockwatch/internal/state"
	"github.com/coachpo/stockwatch/internal/stock"
	"github.com/coachpo/stockwatch/internal/telemetry"
	"github.com/coachpo/stockwatch/lib/async"
)

const component = "monitor"

// Discoverer lists every product currently shown under a filter.
type Discoverer interface {
	Discover(ctx context.Context, filter string) map[string]catalog.Product
}

// Verifier checks the live stock of a single product.
type Verifier interface {
	Verify(ctx context.Context, code string) stock.Result
}

// Notifier delivers alerts and announcements.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message, category string) bool
	Broadcast(ctx context.Context, text string) int
	Announce(ctx context.Context, format func(destination string) string) int
}

// Options wires a Monitor. Now, Sleep and Rand default to the real clock, a
// context-aware timer and a time-seeded PCG source.
type Options struct {
	Filters       []string
	Discoverer    Discoverer
	Verifier      Verifier
	Notifier      Notifier
	Ledger        *state.Ledger
	VerifyWorkers int
	CycleDelayMin time.Duration
	CycleDelayMax time.Duration
	EmptyBackoff  time.Duration
	ResetHour     int
	Location      *time.Location
	Instruments   *telemetry.Instruments
	Logger        *log.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  *rand.Rand
}

// Monitor is the control loop. Only the goroutine running Run or RunCycle mutates the ledger.
type Monitor struct {
	filters       []string
	discoverer    Discoverer
	verifier      Verifier
	notifier      Notifier
	ledger        *state.Ledger
	verifyWorkers int
	delayMin      time.Duration
	delayMax      time.Duration
	emptyBackoff  time.Duration
	reset         *ResetTracker
	instruments   *telemetry.Instruments
	logger        *log.Logger
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
	rng           *rand.Rand

	running atomic.Bool
	status  statusBox
}

// New validates opts and returns an idle monitor.
func New(opts Options) (*Monitor, error) {
	if opts.Discoverer == nil || opts.Verifier == nil || opts.Notifier == nil || opts.Ledger == nil {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("discoverer, verifier, notifier and ledger are required"))
	}
	if len(opts.Filters) == 0 {
		return nil, errs.New(component, errs.CodeInvalid, errs.WithMessage("at least one filter is required"))
	}
	if opts.VerifyWorkers <= 0 {
		opts.VerifyWorkers = 5
	}
	if opts.CycleDelayMin <= 0 {
		opts.CycleDelayMin = 45 * time.Second
	}
	if opts.CycleDelayMax < opts.CycleDelayMin {
		opts.CycleDelayMax = opts.CycleDelayMin
	}
	if opts.EmptyBackoff <= 0 {
		opts.EmptyBackoff = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		opts.Rand = rand.New(rand.NewPCG(seed, seed>>1))
	}

	m := &Monitor{
		filters:       append([]string(nil), opts.Filters...),
		discoverer:    opts.Discoverer,
		verifier:      opts.Verifier,
		notifier:      opts.Notifier,
		ledger:        opts.Ledger,
		verifyWorkers: opts.VerifyWorkers,
		delayMin:      opts.CycleDelayMin,
		delayMax:      opts.CycleDelayMax,
		emptyBackoff:  opts.EmptyBackoff,
		reset:         NewResetTracker(opts.ResetHour, opts.Location),
		instruments:   opts.Instruments,
		logger:        opts.Logger,
		now:           opts.Now,
		sleep:         opts.Sleep,
		rng:           opts.Rand,
	}
	m.status.update(func(s *Status) {
		s.Phase = PhaseIdle
		s.Filters = append([]string(nil), m.filters...)
	})
	return m, nil
}

// Status returns the latest published snapshot. Safe for concurrent use.
func (m *Monitor) Status() Status { return m.status.load() }

// Filters returns the monitored filters.
func (m *Monitor) Filters() []string { return append([]string(nil), m.filters...) }

// Run announces the start, loops over cycles until ctx is cancelled and then
// broadcasts the stop message. Work already in progress when ctx is cancelled is
// finished before the loop exits.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errs.New(component, errs.CodeInvalid, errs.WithMessage("monitor already running"))
	}
	work := context.WithoutCancel(ctx)
	m.setPhase(PhaseRunning, func(s *Status) { s.Running = true })
	m.logger.Printf("monitor: started filters=%s", strings.Join(m.filters, ","))
	m.notifier.Announce(work, notify.StartText)

	for ctx.Err() == nil {
		report := m.RunCycle(ctx)
		if ctx.Err() != nil {
			break
		}
		delay := m.nextDelay()
		if report.Empty {
			delay = m.emptyBackoff
		}
		m.setPhase(PhaseSleeping, nil)
		m.logger.Printf("monitor: cycle %s done, sleeping %s", report.ID, delay.Round(time.Second))
		if err := m.sleep(ctx, delay); err != nil {
			break
		}
	}

	m.setPhase(PhaseStopped, func(s *Status) { s.Running = false })
	m.logger.Printf("monitor: stopping")
	m.notifier.Broadcast(work, notify.StopText)
	m.running.Store(false)
	return nil
}

// CycleReport summarises one cycle.
type CycleReport struct {
	ID         string
	Reset      bool
	Discovered int
	Empty      bool
	Verified   int
	Unknown    int
	Restocked  int
	Notified   int
	SoldOut    int
}

// RunCycle executes one reset check, discovery and verification pass. Cancelling ctx
// stops the cycle at the next phase boundary; a phase that already started runs to
// completion.
func (m *Monitor) RunCycle(ctx context.Context) CycleReport {
	started := m.now()
	report := CycleReport{ID: uuid.NewString()}
	work := context.WithoutCancel(ctx)
	m.setPhase(PhaseResetCheck, func(s *Status) { s.CycleID = report.ID })

	if m.reset.Due(started) {
		report.Reset = true
		m.runReset(work)
	}
	if ctx.Err() != nil {
		return report
	}

	m.setPhase(PhaseDiscovering, nil)
	products, perFilter := m.discoverAll(work)
	report.Discovered = len(products)
	m.setPhase(PhaseDiscovering, func(s *Status) { s.Discovered = len(products) })
	if len(products) == 0 {
		m.logger.Printf("monitor: warning: cycle %s found no products", report.ID)
		report.Empty = true
		m.finishCycle(work, started, perFilter)
		return report
	}
	m.logger.Printf("monitor: cycle %s verifying %d products", report.ID, len(products))
	if ctx.Err() != nil {
		return report
	}

	m.setPhase(PhaseVerifying, nil)
	m.verifyAll(work, products, &report)
	m.logger.Printf("monitor: cycle %s verified=%d unknown=%d restocked=%d notified=%d sold_out=%d",
		report.ID, report.Verified, report.Unknown, report.Restocked, report.Notified, report.SoldOut)
	m.finishCycle(work, started, perFilter)
	return report
}

func (m *Monitor) runReset(ctx context.Context) {
	m.logger.Printf("monitor: daily reset, clearing %d records", m.ledger.Len())
	if err := m.ledger.Reset(ctx); err != nil {
		m.logger.Printf("monitor: reset persisted with error: %v", err)
	}
	for _, filter := range m.filters {
		m.instruments.RecordReset(ctx, filter)
	}
	m.notifier.Broadcast(ctx, notify.ResetText)
	last := m.reset.LastDate()
	m.status.update(func(s *Status) {
		s.Resets++
		s.LastReset = last
	})
}

// discoverAll runs discovery for each filter in turn and merges the results by
// trimmed code. Products are returned sorted by code.
func (m *Monitor) discoverAll(ctx context.Context) ([]catalog.Product, map[string]int) {
	merged := make(map[string]catalog.Product)
	perFilter := make(map[string]int, len(m.filters))
	for _, filter := range m.filters {
		found := m.discoverer.Discover(ctx, filter)
		perFilter[filter] = len(found)
		for code, p := range found {
			code = strings.TrimSpace(code)
			if code == "" {
				continue
			}
			p.Code = code
			merged[code] = p
		}
	}
	codes := make([]string, 0, len(merged))
	for code := range merged {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	products := make([]catalog.Product, 0, len(codes))
	for _, code := range codes {
		products = append(products, merged[code])
	}
	return products, perFilter
}

type verification struct {
	product catalog.Product
	result  stock.Result
}

// verifyAll checks products concurrently and applies each result from this goroutine.
// A code is handled at most once per call even if it appears more than once.
func (m *Monitor) verifyAll(ctx context.Context, products []catalog.Product, report *CycleReport) {
	results, err := async.FanOut(ctx, m.verifyWorkers, products, func(ctx context.Context, p catalog.Product) verification {
		return verification{product: p, result: m.verifier.Verify(ctx, p.Code)}
	})
	if err != nil {
		m.logger.Printf("monitor: verification not started: %v", err)
		return
	}
	seen := make(map[string]struct{}, len(products))
	for v := range results {
		code := strings.TrimSpace(v.product.Code)
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		m.apply(ctx, v, report)
	}
}

func (m *Monitor) apply(ctx context.Context, v verification, report *CycleReport) {
	p, res := v.product, v.result
	report.Verified++
	m.instruments.RecordVerification(ctx, p.Category, res.Availability.String())

	if res.Availability == stock.Unknown {
		report.Unknown++
		return
	}
	wasInStock := m.ledger.InStock(p.Code)
	switch {
	case res.InStock() && !wasInStock:
		report.Restocked++
		m.logger.Printf("monitor: restock %s (%s) %s", p.Code, p.Category, res.Details)
		if !m.notifier.Notify(ctx, notify.FormatRestock(p, res.Details), p.Category) {
			m.logger.Printf("monitor: warning: alert for %s not delivered, state unchanged", p.Code)
			return
		}
		report.Notified++
		m.status.update(func(s *Status) { s.Notified++ })
		_ = m.ledger.Put(ctx, p.Code, state.Record{InStock: true, Details: res.Details})
	case !res.InStock() && wasInStock:
		report.SoldOut++
		m.logger.Printf("monitor: %s went out of stock (%s)", p.Code, res.Details)
		_ = m.ledger.Put(ctx, p.Code, state.Record{InStock: false})
	}
}

func (m *Monitor) finishCycle(ctx context.Context, started time.Time, perFilter map[string]int) {
	took := m.now().Sub(started)
	for _, filter := range m.filters {
		m.instruments.RecordCycle(ctx, filter, took, perFilter[filter])
	}
	tracked, inStock := m.ledger.Len(), m.ledger.InStockCount()
	m.status.update(func(s *Status) {
		s.Cycles++
		s.LastCycleAt = started
		s.Tracked = tracked
		s.InStock = inStock
	})
}

func (m *Monitor) nextDelay() time.Duration {
	span := m.delayMax - m.delayMin
	if span <= 0 {
		return m.delayMin
	}
	return m.delayMin + time.Duration(m.rng.Int64N(int64(span)+1))
}

func (m *Monitor) setPhase(phase Phase, fn func(*Status)) {
	m.status.update(func(s *Status) {
		s.Phase = phase
		if fn != nil {
			fn(s)
		}
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
