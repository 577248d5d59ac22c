package usecase

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
)

func TestActiveTargets(t *testing.T) {
	a := NewActiveTargets(0)
	key := model.TargetKey{ConnectionID: "demo", Database: "shop", Table: "orders"}

	holder, ok := a.Acquire(key, "j1")
	assert.True(t, ok)
	assert.Equal(t, "j1", holder)

	holder, ok = a.Acquire(key, "j2")
	assert.False(t, ok)
	assert.Equal(t, "j1", holder)

	_, ok = a.Acquire(key, "j1")
	assert.True(t, ok, "holder may re-acquire")

	a.Release(key, "j2")
	h, held := a.Holder(key)
	assert.True(t, held, "release by a non-holder is ignored")
	assert.Equal(t, "j1", h)

	a.Release(key, "j1")
	assert.Zero(t, a.Len())

	other := model.TargetKey{ConnectionID: "demo", Database: "shop", Table: "customers"}
	_, ok = a.Acquire(other, "j3")
	assert.True(t, ok)
}

func TestActiveTargets_Limit(t *testing.T) {
	a := NewActiveTargets(2)
	orders := model.TargetKey{ConnectionID: "demo", Database: "shop", Table: "orders"}
	customers := model.TargetKey{ConnectionID: "demo", Database: "shop", Table: "customers"}
	items := model.TargetKey{ConnectionID: "demo", Database: "shop", Table: "items"}

	_, ok := a.Acquire(orders, "j1")
	assert.True(t, ok)
	_, ok = a.Acquire(customers, "j2")
	assert.True(t, ok)

	holder, ok := a.Acquire(items, "j3")
	assert.False(t, ok)
	assert.Empty(t, holder, "a full registry reports no holder")

	holder, ok = a.Acquire(orders, "j4")
	assert.False(t, ok)
	assert.Equal(t, "j1", holder, "a busy target still reports its holder")

	_, ok = a.Acquire(orders, "j1")
	assert.True(t, ok, "holder may re-acquire at the limit")

	assert.Empty(t, a.Hold(items, "j5"), "hold ignores the limit")
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, "j5", a.Hold(items, "j6"))

	a.Release(orders, "j1")
	a.Release(customers, "j2")
	_, ok = a.Acquire(orders, "j7")
	assert.True(t, ok)
}

func TestJobLocks_SerializesAndCleansUp(t *testing.T) {
	l := NewJobLocks()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("j1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, l.Len())

	unlock := l.Lock("j2")
	unlock()
	unlock()
	assert.Zero(t, l.Len())
}
