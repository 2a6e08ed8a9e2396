package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMap_PreservesOrder(t *testing.T) {
	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}

	got := Map(context.Background(), New(8), items, func(_ context.Context, v int) int {
		if v%7 == 0 {
			time.Sleep(time.Millisecond)
		}
		return v * v
	})

	for i, v := range got {
		assert.Equal(t, i*i, v)
	}
}

func TestMap_BoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	items := make([]struct{}, 50)

	Map(context.Background(), New(4), items, func(_ context.Context, _ struct{}) bool {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return true
	})

	assert.LessOrEqual(t, peak.Load(), int32(4))
	assert.Greater(t, peak.Load(), int32(0))
}

func TestMap_Empty(t *testing.T) {
	got := Map(context.Background(), New(0), []string{}, func(_ context.Context, s string) int { return len(s) })
	assert.Empty(t, got)
	assert.Equal(t, DefaultSize, New(0).Size())
}
