package mordor

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runInFiber(t *testing.T, pool *Scheduler, body func()) {
	t.Helper()
	done := make(chan struct{})
	pool.ScheduleFunc(func() {
		defer close(done)
		body()
	}, AnyThread)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fiber body timed out")
	}
}

func TestParallelDoRunsAllAndReturnsNil(t *testing.T) {
	pool, err := NewWorkerPool(WithThreads(2))
	require.NoError(t, err)
	defer pool.Stop()

	var ran int32
	runInFiber(t, pool, func() {
		fns := make([]func() error, 5)
		for i := range fns {
			fns[i] = func() error {
				atomic.AddInt32(&ran, 1)
				return nil
			}
		}
		assert.NoError(t, ParallelDo(fns...))
	})

	assert.Equal(t, int32(5), atomic.LoadInt32(&ran))
}

func TestParallelDoSurfacesFirstError(t *testing.T) {
	pool, err := NewWorkerPool(WithThreads(2))
	require.NoError(t, err)
	defer pool.Stop()

	boom := errors.New("boom")
	runInFiber(t, pool, func() {
		err := ParallelDo(
			func() error { return nil },
			func() error { return boom },
			func() error { return nil },
		)
		assert.ErrorIs(t, err, boom)
	})
}

func TestParallelDoCapturesPanic(t *testing.T) {
	pool, err := NewWorkerPool(WithThreads(1))
	require.NoError(t, err)
	defer pool.Stop()

	runInFiber(t, pool, func() {
		err := ParallelDo(func() error { panic("splat") })
		require.Error(t, err)
		var pe *PanicError
		assert.ErrorAs(t, err, &pe)
	})
}

func TestParallelDoCollectAllAggregates(t *testing.T) {
	pool, err := NewWorkerPool(WithThreads(2))
	require.NoError(t, err)
	defer pool.Stop()

	e1 := errors.New("e1")
	e2 := errors.New("e2")
	runInFiber(t, pool, func() {
		err := ParallelDoCollectAll(
			func() error { return e1 },
			func() error { return nil },
			func() error { return e2 },
		)
		require.Error(t, err)
		var agg *AggregateError
		require.ErrorAs(t, err, &agg)
		assert.Len(t, agg.Errors, 2)
	})
}

func TestParallelForEachProcessesEveryItem(t *testing.T) {
	pool, err := NewWorkerPool(WithThreads(2))
	require.NoError(t, err)
	defer pool.Stop()

	items := make([]int, 23)
	for i := range items {
		items[i] = i
	}

	runInFiber(t, pool, func() {
		var seen int32
		ok, err := ParallelForEach(items, func(int) (bool, error) {
			atomic.AddInt32(&seen, 1)
			return true, nil
		}, 4)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int32(len(items)), atomic.LoadInt32(&seen))
	})
}

func TestParallelForEachStopsOnFalse(t *testing.T) {
	pool, err := NewWorkerPool(WithThreads(2))
	require.NoError(t, err)
	defer pool.Stop()

	items := []int{1, 2, 3, 4, 5, 6, 7, 8}

	runInFiber(t, pool, func() {
		ok, err := ParallelForEach(items, func(item int) (bool, error) {
			return item != 3, nil
		}, 2)
		assert.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestParallelForEachSurfacesError(t *testing.T) {
	pool, err := NewWorkerPool(WithThreads(2))
	require.NoError(t, err)
	defer pool.Stop()

	boom := errors.New("boom")
	items := []int{1, 2, 3}

	runInFiber(t, pool, func() {
		ok, err := ParallelForEach(items, func(item int) (bool, error) {
			if item == 2 {
				return false, boom
			}
			return true, nil
		}, 2)
		assert.False(t, ok)
		assert.ErrorIs(t, err, boom)
	})
}

func TestParallelForEachSerialFastPath(t *testing.T) {
	var order []int
	ok, err := func() (bool, error) {
		return ParallelForEach([]int{1, 2, 3}, func(item int) (bool, error) {
			order = append(order, item)
			return true, nil
		}, 1)
	}()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestSchedulerSwitcherMovesAndRestores(t *testing.T) {
	home, err := NewWorkerPool(WithThreads(1), WithSchedulerName("home"))
	require.NoError(t, err)
	defer home.Stop()

	away, err := NewWorkerPool(WithThreads(1), WithSchedulerName("away"))
	require.NoError(t, err)
	defer away.Stop()

	runInFiber(t, home, func() {
		assert.Equal(t, home, CurrentFiber().scheduler)
		restore := SchedulerSwitcher(away)
		assert.Equal(t, away, CurrentFiber().scheduler)
		restore()
		assert.Equal(t, home, CurrentFiber().scheduler)
	})
}
