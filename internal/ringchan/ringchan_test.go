package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_OverwritesOldest(t *testing.T) {
	r := New[int](3)

	for i := 0; i < 10; i++ {
		r.Send(i)
	}
	r.Close()

	var got []int
	for v := range r.C() {
		got = append(got, v)
	}

	assert.Equal(t, []int{7, 8, 9}, got, "only the newest values MUST remain")
	stats := r.Stats()
	assert.Equal(t, int64(10), stats.Written)
	assert.Equal(t, int64(7), stats.Overwritten)
}

func TestRing_SendReportsDrop(t *testing.T) {
	r := New[string](1)

	assert.False(t, r.Send("a"), "first send MUST NOT drop")
	assert.True(t, r.Send("b"), "second send MUST drop the oldest")
	assert.Equal(t, "b", <-r.C())
}

func TestRing_CloseIsIdempotent(t *testing.T) {
	r := New[int](2)
	r.Close()

	assert.NotPanics(t, r.Close)
	assert.False(t, r.Send(1), "send after close MUST be ignored")
	_, ok := <-r.C()
	assert.False(t, ok)
}

func TestRing_ConcurrentProducersNeverBlock(t *testing.T) {
	r := New[int](4)

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.Send(i)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 4, r.Len())
	assert.Equal(t, 4, r.Cap())
	stats := r.Stats()
	assert.Equal(t, int64(8000), stats.Written)
	assert.Equal(t, int64(7996), stats.Overwritten)
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
