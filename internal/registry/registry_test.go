package registry

import (
	"maps"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/lobby/internal/protocol"
	"github.com/cory-johannsen/lobby/internal/testutil"
)

func TestRegisterAssignsLowestUnusedID(t *testing.T) {
	r := New()
	a := r.Register(testutil.NewRecorder(), "a")
	b := r.Register(testutil.NewRecorder(), "b")
	c := r.Register(testutil.NewRecorder(), "c")
	assert.Equal(t, []int{0, 1, 2}, []int{a.ID, b.ID, c.ID})

	r.Unregister(b.ID)
	d := r.Register(testutil.NewRecorder(), "d")
	assert.Equal(t, 1, d.ID)

	e := r.Register(testutil.NewRecorder(), "e")
	assert.Equal(t, 3, e.ID)
}

func TestNewClientIsUnattached(t *testing.T) {
	r := New()
	c := r.Register(testutil.NewRecorder(), "127.0.0.1:9000")
	assert.Equal(t, NoLobby, c.LobbyID())
	assert.False(t, c.InLobby())
	assert.Equal(t, "127.0.0.1:9000", c.Address)

	c.SetLobby(4)
	assert.True(t, c.InLobby())
	c.ClearLobby()
	assert.False(t, c.InLobby())
}

func TestGetNotFound(t *testing.T) {
	r := New()
	_, err := r.Get(42)
	assert.ErrorIs(t, err, ErrClientNotFound)

	c := r.Register(testutil.NewRecorder(), "x")
	got, err := r.Get(c.ID)
	require.NoError(t, err)
	assert.Same(t, c, got)

	r.Unregister(c.ID)
	_, err = r.Get(c.ID)
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestAllIsSortedSnapshot(t *testing.T) {
	r := New()
	for i := 0; i < 5; i++ {
		r.Register(testutil.NewRecorder(), "x")
	}
	r.Unregister(2)

	all := r.All()
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
	assert.Equal(t, 4, r.Count())
}

func TestSendRoutesToClient(t *testing.T) {
	r := New()
	rec := testutil.NewRecorder()
	c := r.Register(rec, "x")
	c.SetUsername("Ann")

	require.NoError(t, r.Send(c.ID, &protocol.ChatMessage{Text: "hi"}))
	assert.Equal(t, []protocol.Message{&protocol.ChatMessage{Text: "hi"}}, rec.Messages())
	assert.Equal(t, protocol.PlayerRef{Username: "Ann", ID: c.ID}, c.Ref())

	assert.ErrorIs(t, r.Send(99, &protocol.GameOver{}), ErrClientNotFound)
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := New()
	const n = 100
	var wg sync.WaitGroup
	ids := make(chan int, n)

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			ids <- r.Register(testutil.NewRecorder(), "x").ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
		assert.Less(t, id, n)
	}
	assert.Equal(t, n, r.Count())

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(id int) {
			defer wg.Done()
			r.Unregister(id)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Count())
}

// Property-based tests

func TestPropertyIDsUniqueAndLowest(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := New()
		live := map[int]bool{}
		ops := rapid.SliceOfN(rapid.Bool(), 1, 60).Draw(t, "ops")
		for i, register := range ops {
			if register || len(live) == 0 {
				c := r.Register(testutil.NewRecorder(), "x")
				if live[c.ID] {
					t.Fatalf("op %d: id %d reused while live", i, c.ID)
				}
				for lower := 0; lower < c.ID; lower++ {
					if !live[lower] {
						t.Fatalf("op %d: id %d assigned while %d free", i, c.ID, lower)
					}
				}
				live[c.ID] = true
				continue
			}
			victim := rapid.SampledFrom(slices.Sorted(maps.Keys(live))).Draw(t, "victim")
			r.Unregister(victim)
			delete(live, victim)
		}
		if r.Count() != len(live) {
			t.Fatalf("count %d, want %d", r.Count(), len(live))
		}
	})
}
