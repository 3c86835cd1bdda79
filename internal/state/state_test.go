package state

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/stockwatch/errs"
)

func quietLogger() *log.Logger { return log.New(&bytes.Buffer{}, "", 0) }

func sample() Snapshot {
	return Snapshot{
		"A1":  {InStock: true, Details: "M (3), L (In Stock)"},
		"B2":  {InStock: false},
		"C<3": {InStock: true, Details: "Free Size (1)"},
	}
}

func TestEncodeIsIndentedAndOmitsEmptyDetails(t *testing.T) {
	data, err := Encode(Snapshot{"B2": {InStock: false}, "A1": {InStock: true, Details: "S (1)"}})
	require.NoError(t, err)
	want := "{\n" +
		"    \"A1\": {\n" +
		"        \"in_stock\": true,\n" +
		"        \"details\": \"S (1)\"\n" +
		"    },\n" +
		"    \"B2\": {\n" +
		"        \"in_stock\": false\n" +
		"    }\n" +
		"}"
	require.Equal(t, want, string(data))
}

func TestDecodeTrimsKeysAndDropsMalformed(t *testing.T) {
	snap, dropped, err := Decode([]byte(`{
		" A1 ": {"in_stock": true, "details": "M (2)"},
		"B2": {"in_stock": "yes"},
		"C3": [1, 2],
		"D4": {"details": "no flag"},
		"E5": {"in_stock": false, "details": null},
		"F6": {"in_stock": true, "details": 7},
		"   ": {"in_stock": true}
	}`))
	require.NoError(t, err)
	require.Equal(t, Snapshot{
		"A1": {InStock: true, Details: "M (2)"},
		"E5": {InStock: false},
	}, snap)
	require.ElementsMatch(t, []string{"B2", "C3", "D4", "F6", "   "}, dropped)
}

func TestDecodeCollidingKeysLastLexicalWins(t *testing.T) {
	snap, _, err := Decode([]byte(`{"A1": {"in_stock": false}, "A1 ": {"in_stock": true}}`))
	require.NoError(t, err)
	require.Equal(t, Snapshot{"A1": {InStock: true}}, snap)
}

func TestDecodeEmptyAndCorrupt(t *testing.T) {
	snap, _, err := Decode(nil)
	require.NoError(t, err)
	require.Empty(t, snap)

	_, _, err = Decode([]byte(`{"A1": {"in_stock": tr`))
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.CodeParse))
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "stock_state.json"), quietLogger())
	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, snap)
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "stock_state.json")
	store := NewFileStore(path, quietLogger())

	require.NoError(t, store.Save(ctx, sample()))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, sample(), loaded)

	require.NoError(t, store.Save(ctx, loaded))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, first, second)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not linger")
}

func TestFileStoreCorruptFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stock_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := NewFileStore(path, quietLogger()).Load(context.Background())
	require.Error(t, err)
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "", quietLogger())
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, store := newMiniRedis(t)

	require.NoError(t, store.Ping(ctx))
	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, snap)

	require.NoError(t, store.Save(ctx, sample()))
	require.True(t, mr.Exists(DefaultRedisKey))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, sample(), loaded)

	raw, err := mr.Get(DefaultRedisKey)
	require.NoError(t, err)
	encoded, err := Encode(sample())
	require.NoError(t, err)
	require.Equal(t, string(encoded), raw)
}

func TestRedisStoreFromURL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	store, err := NewRedisStoreFromURL("redis://"+mr.Addr()+"/0", "", "", 0, "custom:key", quietLogger())
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Save(context.Background(), Snapshot{"X": {InStock: true}}))
	require.True(t, mr.Exists("custom:key"))

	_, err = NewRedisStoreFromURL("://bad", "", "", 0, "", quietLogger())
	require.Error(t, err)
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr, store := newMiniRedis(t)
	mr.Close()
	_, err := store.Load(context.Background())
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.CodeUnavailable))
}

func TestCleanKeys(t *testing.T) {
	out, before, after, err := CleanKeys([]byte(`{" A1": {"in_stock": true}, "A1": {"in_stock": false}, "B2 ": {"weird": 1}}`))
	require.NoError(t, err)
	require.Equal(t, 3, before)
	require.Equal(t, 2, after)
	require.Contains(t, string(out), `"B2"`)
	require.Contains(t, string(out), `"weird"`)
	require.NotContains(t, string(out), `" A1"`)
}

func TestCleanRewritesFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stock_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"A1 ": {"in_stock": true}, " B2": {"in_stock": false}}`), 0o600))
	store := NewFileStore(path, quietLogger())

	before, after, err := Clean(ctx, store)
	require.NoError(t, err)
	require.Equal(t, 2, before)
	require.Equal(t, 2, after)

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, Snapshot{"A1": {InStock: true}, "B2": {InStock: false}}, snap)

	_, _, err = Clean(ctx, NewFileStore(filepath.Join(t.TempDir(), "none.json"), quietLogger()))
	require.True(t, errs.IsCode(err, errs.CodeNotFound))
}

func TestLedgerWriteThrough(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ledger := NewLedger(store, quietLogger())
	ledger.Load(ctx)
	require.Equal(t, 0, ledger.Len())

	require.NoError(t, ledger.Put(ctx, " A1 ", Record{InStock: true, Details: "M (1)"}))
	require.Equal(t, 1, store.Saves())
	require.True(t, ledger.InStock("A1"))
	require.False(t, ledger.InStock("unknown"))

	require.NoError(t, ledger.Put(ctx, "B2", Record{InStock: false}))
	require.Equal(t, 2, ledger.Len())
	require.Equal(t, 1, ledger.InStockCount())

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, ledger.Snapshot(), persisted)

	require.NoError(t, ledger.Reset(ctx))
	require.Equal(t, 0, ledger.Len())
	persisted, err = store.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, persisted)
}

func TestLedgerSaveFailureKeepsMemoryAndReports(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.FailSaves(errors.New("disk full"))
	buf := &bytes.Buffer{}
	ledger := NewLedger(store, log.New(buf, "", 0))

	err := ledger.Put(ctx, "A1", Record{InStock: false})
	require.Error(t, err)
	_, ok := ledger.Get("A1")
	require.True(t, ok)
	require.Contains(t, buf.String(), "failed to save snapshot")
}

func TestLedgerLoadFailureFallsBackToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stock_state.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))
	ledger := NewLedger(NewFileStore(path, quietLogger()), quietLogger())
	ledger.Load(context.Background())
	require.Equal(t, 0, ledger.Len())
}
