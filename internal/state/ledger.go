package state

import (
	"context"
	"log"
	"strings"
	"sync"
)

// Ledger is the in-memory view of the snapshot with write-through persistence.
// Mutations come from a single goroutine; reads may happen concurrently.
type Ledger struct {
	mu      sync.RWMutex
	store   Store
	records Snapshot
	logger  *log.Logger
}

// NewLedger returns an empty ledger backed by store.
func NewLedger(store Store, logger *log.Logger) *Ledger {
	if logger == nil {
		logger = log.Default()
	}
	return &Ledger{store: store, records: Snapshot{}, logger: logger}
}

// Load replaces the in-memory view with the stored snapshot. Load failures are
// logged and leave the ledger empty.
func (l *Ledger) Load(ctx context.Context) {
	snap, err := l.store.Load(ctx)
	if err != nil {
		l.logger.Printf("state: failed to load snapshot, starting empty: %v", err)
		snap = Snapshot{}
	}
	if snap == nil {
		snap = Snapshot{}
	}
	l.mu.Lock()
	l.records = snap
	l.mu.Unlock()
	l.logger.Printf("state: loaded %d records", len(snap))
}

// Get returns the record for code.
func (l *Ledger) Get(code string) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[strings.TrimSpace(code)]
	return rec, ok
}

// InStock reports the last persisted status; unknown codes are not in stock.
func (l *Ledger) InStock(code string) bool {
	rec, _ := l.Get(code)
	return rec.InStock
}

// Put records rec for code and persists the whole snapshot. A persistence failure
// is logged and returned; the in-memory record is kept either way.
func (l *Ledger) Put(ctx context.Context, code string, rec Record) error {
	l.mu.Lock()
	l.records[strings.TrimSpace(code)] = rec
	snap := l.records.Clone()
	l.mu.Unlock()
	return l.persist(ctx, snap)
}

// Reset clears every record and persists the empty snapshot.
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	l.records = Snapshot{}
	l.mu.Unlock()
	return l.persist(ctx, Snapshot{})
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// InStockCount returns how many records are in stock.
func (l *Ledger) InStockCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, rec := range l.records {
		if rec.InStock {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the current records.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.records.Clone()
}

func (l *Ledger) persist(ctx context.Context, snap Snapshot) error {
	if err := l.store.Save(ctx, snap); err != nil {
		l.logger.Printf("state: failed to save snapshot: %v", err)
		return err
	}
	return nil
}
