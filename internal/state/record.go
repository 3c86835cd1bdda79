// Package state persists the last observed stock status per product.
package state

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/stockwatch/errs"
)

// Record is the persisted status of one product. A missing record means the
// product was never observed in stock.
type Record struct {
	InStock bool   `json:"in_stock"`
	Details string `json:"details,omitempty"`
}

// Snapshot maps trimmed product identifiers to records.
type Snapshot map[string]Record

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Store loads and saves whole snapshots.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// RawStore exposes the undecoded document, used by maintenance tooling.
// ReadRaw returns nil, nil when nothing has been stored yet.
type RawStore interface {
	Store
	ReadRaw(ctx context.Context) ([]byte, error)
	WriteRaw(ctx context.Context, data []byte) error
}

// Encode renders a snapshot as a 4-space indented JSON object with sorted keys.
func Encode(snap Snapshot) ([]byte, error) {
	if snap == nil {
		snap = Snapshot{}
	}
	data, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return nil, errs.New("state", errs.CodeParse, errs.WithMessage("encode snapshot"), errs.WithCause(err))
	}
	return data, nil
}

// Decode parses a stored document. Keys are trimmed; when two keys collide after
// trimming the lexically last original key wins. Entries that are not an
// {in_stock: bool, details?: string} object are dropped and reported.
func Decode(data []byte) (Snapshot, []string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Snapshot{}, nil, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, errs.New("state", errs.CodeParse, errs.WithMessage("decode snapshot"), errs.WithCause(err))
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	snap := make(Snapshot, len(raw))
	var dropped []string
	for _, k := range keys {
		rec, err := decodeRecord(raw[k])
		if err != nil {
			dropped = append(dropped, k)
			continue
		}
		trimmed := strings.TrimSpace(k)
		if trimmed == "" {
			dropped = append(dropped, k)
			continue
		}
		snap[trimmed] = rec
	}
	return snap, dropped, nil
}

func decodeLogged(data []byte, logger *log.Logger) (Snapshot, error) {
	snap, dropped, err := Decode(data)
	if err != nil {
		return nil, err
	}
	for _, k := range dropped {
		logger.Printf("state: dropped malformed record %q", k)
	}
	return snap, nil
}

func decodeRecord(raw json.RawMessage) (Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Record{}, fmt.Errorf("record is not an object")
	}
	var rec Record
	inStock, ok := fields["in_stock"]
	if !ok {
		return Record{}, fmt.Errorf("record missing in_stock")
	}
	if err := json.Unmarshal(inStock, &rec.InStock); err != nil {
		return Record{}, fmt.Errorf("in_stock is not a boolean")
	}
	if details, ok := fields["details"]; ok && !bytes.Equal(bytes.TrimSpace(details), []byte("null")) {
		if err := json.Unmarshal(details, &rec.Details); err != nil {
			return Record{}, fmt.Errorf("details is not a string")
		}
	}
	return rec, nil
}

// CleanKeys trims every top-level key of a stored document while leaving values
// untouched. It returns the rewritten document with the entry counts before and after.
func CleanKeys(data []byte) ([]byte, int, int, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, 0, errs.New("state", errs.CodeParse, errs.WithMessage("decode snapshot"), errs.WithCause(err))
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cleaned := make(map[string]json.RawMessage, len(raw))
	for _, k := range keys {
		cleaned[strings.TrimSpace(k)] = raw[k]
	}
	out, err := json.MarshalIndent(cleaned, "", "    ")
	if err != nil {
		return nil, 0, 0, errs.New("state", errs.CodeParse, errs.WithMessage("encode snapshot"), errs.WithCause(err))
	}
	return out, len(raw), len(cleaned), nil
}

// Clean applies CleanKeys to the document held by store.
func Clean(ctx context.Context, store RawStore) (int, int, error) {
	data, err := store.ReadRaw(ctx)
	if err != nil {
		return 0, 0, err
	}
	if data == nil {
		return 0, 0, errs.New("state", errs.CodeNotFound, errs.WithMessage("no stored state"))
	}
	out, before, after, err := CleanKeys(data)
	if err != nil {
		return 0, 0, err
	}
	if err := store.WriteRaw(ctx, out); err != nil {
		return 0, 0, err
	}
	return before, after, nil
}
