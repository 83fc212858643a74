package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/vocs/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnectionSetNeedsMembers(t *testing.T) {
	_, err := NewConnectionSet(nil, 0)
	assert.ErrorIs(t, err, ErrNoServers)
}

func TestSwitchLeadMovesListeners(t *testing.T) {
	a, _ := newConn(t, "a", nil)
	b, _ := newConn(t, "b", nil)
	set, err := NewConnectionSet([]*core.Connection{a, b}, time.Millisecond)
	require.NoError(t, err)
	assert.Same(t, a, set.Prime())
	assert.Same(t, a, set.Lead())

	var mu sync.Mutex
	calls := map[string]int{}
	const k = 4
	for i := 0; i < k; i++ {
		name := string(rune('1' + i))
		set.On("loop", func(core.Event) {
			mu.Lock()
			calls[name]++
			mu.Unlock()
		})
	}
	assert.Equal(t, k, a.Events().ListenerCount("loop"))

	assert.False(t, set.SwitchLead(a), "already lead")
	assert.True(t, set.SwitchLead(b))
	assert.Same(t, b, set.Lead())
	assert.Same(t, a, set.Prime())

	assert.Equal(t, 0, a.Events().ListenerCount("loop"))
	assert.Equal(t, k, b.Events().ListenerCount("loop"))

	assert.Equal(t, 0, a.Events().Emit(core.Event{Name: "loop"}))
	assert.Empty(t, calls)

	assert.Equal(t, k, b.Events().Emit(core.Event{Name: "loop"}))
	for _, n := range calls {
		assert.Equal(t, 1, n)
	}
	assert.Len(t, calls, k)
}

func TestSwitchLeadRejectsStrangers(t *testing.T) {
	a, _ := newConn(t, "a", nil)
	stranger, _ := newConn(t, "x", nil)
	set, err := NewConnectionSet([]*core.Connection{a}, 0)
	require.NoError(t, err)
	assert.False(t, set.SwitchLead(stranger))
	assert.False(t, set.SwitchLead(nil))
	assert.Same(t, a, set.Lead())
}

func TestOffAfterSwitch(t *testing.T) {
	a, _ := newConn(t, "a", nil)
	b, _ := newConn(t, "b", nil)
	set, err := NewConnectionSet([]*core.Connection{a, b}, 0)
	require.NoError(t, err)

	sub := set.On("x", func(core.Event) {})
	set.SwitchLead(b)
	assert.True(t, set.Off(sub))
	assert.False(t, set.Off(sub))
	assert.Equal(t, 0, b.Events().ListenerCount("x"))

	set.SwitchLead(a)
	assert.Equal(t, 0, a.Events().ListenerCount("x"), "removed subscriptions do not come back")
}

func TestFindNewReadyServer(t *testing.T) {
	a, atr := newConn(t, "a", nil)
	b, _ := newConn(t, "b", nil)
	set, err := NewConnectionSet([]*core.Connection{a, b}, 5*time.Millisecond)
	require.NoError(t, err)

	found := make(chan *core.Connection, 3)
	for i := 0; i < 3; i++ {
		go func() {
			c, err := set.FindNewReadyServer(testCtx(t), false)
			if err == nil {
				found <- c
			} else {
				found <- nil
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	connect(t, b)

	for i := 0; i < 3; i++ {
		select {
		case c := <-found:
			assert.Same(t, b, c)
		case <-time.After(2 * time.Second):
			t.Fatal("search did not finish")
		}
	}
	assert.Equal(t, 0, atr.Dials())
}

func TestFindNewReadyServerAuthorizedAndCancel(t *testing.T) {
	a, _ := newConn(t, "a", nil)
	set, err := NewConnectionSet([]*core.Connection{a}, 5*time.Millisecond)
	require.NoError(t, err)
	connect(t, a)

	c, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = set.FindNewReadyServer(c, true)
	assert.ErrorIs(t, err, ErrNoReadyServer)

	got, err := set.FindNewReadyServer(testCtx(t), false)
	require.NoError(t, err)
	assert.Same(t, a, got)
}

func TestFindNewReadyServerOutlivesCancelledCaller(t *testing.T) {
	a, _ := newConn(t, "a", nil)
	set, err := NewConnectionSet([]*core.Connection{a}, 5*time.Millisecond)
	require.NoError(t, err)

	short, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := set.FindNewReadyServer(short, false)
		first <- err
	}()
	time.Sleep(10 * time.Millisecond)

	second := make(chan *core.Connection, 1)
	go func() {
		c, err := set.FindNewReadyServer(testCtx(t), false)
		if err != nil {
			c = nil
		}
		second <- c
	}()
	time.Sleep(10 * time.Millisecond)

	cancel()
	select {
	case err := <-first:
		assert.ErrorIs(t, err, ErrNoReadyServer)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled search did not return")
	}

	time.Sleep(20 * time.Millisecond)
	connect(t, a)
	select {
	case c := <-second:
		assert.Same(t, a, c)
	case <-time.After(2 * time.Second):
		t.Fatal("search did not finish")
	}
}

func TestAccessorsFallBackToPrime(t *testing.T) {
	a, _ := newConn(t, "a", nil)
	b, _ := newConn(t, "b", nil)
	set, err := NewConnectionSet([]*core.Connection{a, b}, 0)
	require.NoError(t, err)

	_, ok := set.CurrentUser()
	assert.False(t, ok)
	assert.Equal(t, "a", set.ServerName())
	assert.Equal(t, "https://a.example", set.ServerURL())

	set.SwitchLead(b)
	assert.Equal(t, "b", set.ServerName())
	found, ok := set.Find("a")
	assert.True(t, ok)
	assert.Same(t, a, found)
	assert.Len(t, set.Select(func(c *core.Connection) bool { return c.IsReady() }), 0)
	assert.Len(t, set.List(), 2)
}
