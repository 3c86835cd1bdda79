package async

import (
	"context"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/stockwatch/errs"
)

func TestFanOutDeliversEveryResultAndCloses(t *testing.T) {
	inputs := []int{1, 2, 3, 4, 5, 6, 7, 8}
	ch, err := FanOut(context.Background(), 3, inputs, func(_ context.Context, n int) int {
		return n * n
	})
	require.NoError(t, err)

	var got []int
	for v := range ch {
		got = append(got, v)
	}
	sort.Ints(got)
	require.Equal(t, []int{1, 4, 9, 16, 25, 36, 49, 64}, got)
}

func TestFanOutBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	inputs := make([]int, 20)
	out, err := Collect(context.Background(), 5, inputs, func(_ context.Context, _ int) struct{} {
		cur := inFlight.Add(1)
		for {
			prev := peak.Load()
			if cur <= prev || peak.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}
	})
	require.NoError(t, err)
	require.Len(t, out, 20)
	require.LessOrEqual(t, peak.Load(), int32(5))
	require.Greater(t, peak.Load(), int32(1))
}

func TestFanOutEmptyInputClosesImmediately(t *testing.T) {
	ch, err := FanOut(context.Background(), 2, []string(nil), func(_ context.Context, s string) string { return s })
	require.NoError(t, err)
	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected closed channel")
	}
}

func TestFanOutRejectsInvalidArguments(t *testing.T) {
	_, err := FanOut(context.Background(), 0, []int{1}, func(_ context.Context, n int) int { return n })
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.CodeInvalid))

	_, err = FanOut[int, int](context.Background(), 1, []int{1}, nil)
	require.Error(t, err)
}
