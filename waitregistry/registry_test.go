package waitregistry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/niocoro/waitregistry"
)

func TestRegistry_WakeDeliversInFIFOOrder(t *testing.T) {
	r := waitregistry.New()
	var order []uint64
	for i := uint64(1); i <= 3; i++ {
		id := i
		r.Register(5, waitregistry.Read, &waitregistry.Waiter{
			CoroutineID: id,
			Wake:        func(woken bool) { order = append(order, id) },
		})
	}
	require.Equal(t, 1, r.Len())
	woken := r.Wake(5, waitregistry.Read)
	require.Equal(t, 3, woken)
	require.Equal(t, []uint64{1, 2, 3}, order)
	require.Equal(t, 0, r.Len())
}

func TestRegistry_DirectionsAreIndependent(t *testing.T) {
	r := waitregistry.New()
	var readWoken, writeWoken bool
	r.Register(5, waitregistry.Read, &waitregistry.Waiter{Wake: func(bool) { readWoken = true }})
	r.Register(5, waitregistry.Write, &waitregistry.Waiter{Wake: func(bool) { writeWoken = true }})

	r.Wake(5, waitregistry.Write)
	require.False(t, readWoken)
	require.True(t, writeWoken)
	require.Equal(t, 1, r.Len()) // read waiter still pending
}

func TestRegistry_CancelRemovesWaiterBeforeWake(t *testing.T) {
	r := waitregistry.New()
	called := false
	cancel := r.Register(5, waitregistry.Read, &waitregistry.Waiter{
		Deadline: time.Now().Add(time.Second),
		Wake:     func(bool) { called = true },
	})
	cancel()
	require.Equal(t, 0, r.Wake(5, waitregistry.Read))
	require.False(t, called)

	// cancel must be idempotent
	require.NotPanics(t, cancel)
}

func TestRegistry_DropWakesBothDirections(t *testing.T) {
	r := waitregistry.New()
	var readWoken, writeWoken bool
	r.Register(7, waitregistry.Read, &waitregistry.Waiter{Wake: func(bool) { readWoken = true }})
	r.Register(7, waitregistry.Write, &waitregistry.Waiter{Wake: func(bool) { writeWoken = true }})

	n := r.Drop(7)
	require.Equal(t, 2, n)
	require.True(t, readWoken)
	require.True(t, writeWoken)
	require.Equal(t, 0, r.Len())
}

func TestRegistry_RejectAll(t *testing.T) {
	r := waitregistry.New()
	woken := 0
	for _, fd := range []int{1, 2, 3} {
		r.Register(fd, waitregistry.Read, &waitregistry.Waiter{Wake: func(bool) { woken++ }})
	}
	require.Equal(t, 3, r.RejectAll())
	require.Equal(t, 3, woken)
	require.Equal(t, 0, r.Len())
}
