package lobby_test

import (
	"fmt"
	"slices"
	"testing"

	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/lobby/internal/protocol"
	"github.com/cory-johannsen/lobby/internal/registry"
)

// checkInvariants verifies the lobby table against every client's view.
func checkInvariants(t *rapid.T, f *fixture, clients []*registry.Client) {
	public := map[int]bool{}
	for _, info := range f.mgr.ListPublic() {
		public[info.LobbyID] = true
	}

	seen := map[int]int{}
	for _, l := range f.mgr.Lobbies() {
		members := l.MemberIDs()
		if len(members) == 0 {
			t.Fatalf("lobby %d has no members but still exists", l.ID)
		}
		if !slices.Contains(members, l.HostID()) {
			t.Fatalf("lobby %d host %d is not a member of %v", l.ID, l.HostID(), members)
		}
		for _, id := range members {
			if prev, dup := seen[id]; dup {
				t.Fatalf("client %d is in lobbies %d and %d", id, prev, l.ID)
			}
			seen[id] = l.ID
		}
		if n := len(l.Chat()); n > 50 {
			t.Fatalf("lobby %d chat has %d lines", l.ID, n)
		}
		info := l.Info(true, false)
		if len(members) > info.MaxPlayers {
			t.Fatalf("lobby %d has %d members over a cap of %d", l.ID, len(members), info.MaxPlayers)
		}
		listed := !*info.Private && l.Session() == nil
		if public[l.ID] != listed {
			t.Fatalf("lobby %d listed=%v, want %v", l.ID, public[l.ID], listed)
		}
	}
	for _, c := range clients {
		want, in := seen[c.ID]
		switch {
		case in && c.LobbyID() != want:
			t.Fatalf("client %d believes it is in lobby %d, table says %d", c.ID, c.LobbyID(), want)
		case !in && c.LobbyID() != registry.NoLobby:
			t.Fatalf("client %d believes it is in lobby %d, table has it nowhere", c.ID, c.LobbyID())
		}
	}
}

func TestPropertyLobbyInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t, zap.NewNop())
		clients := make([]*registry.Client, 6)
		for i := range clients {
			clients[i], _ = f.connect()
		}

		steps := rapid.IntRange(1, 80).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			c := rapid.SampledFrom(clients).Draw(rt, "client")
			switch rapid.IntRange(0, 6).Draw(rt, "op") {
			case 0:
				_, _ = f.mgr.Create(c, "u", protocol.Settings{"max_players": rapid.IntRange(1, 4).Draw(rt, "cap")},
					"t", rapid.Bool().Draw(rt, "private"))
			case 1:
				_ = f.mgr.Join(rapid.IntRange(0, 8).Draw(rt, "lobby"), c, "u")
			case 2:
				_ = f.mgr.Leave(c)
			case 3:
				_ = f.mgr.Kick(c, rapid.IntRange(0, 5).Draw(rt, "target"), "")
			case 4:
				private := rapid.Bool().Draw(rt, "private")
				host := rapid.IntRange(0, 5).Draw(rt, "host")
				_ = f.mgr.ChangeSettings(c, &protocol.ChangeLobbySettings{Private: &private, HostID: &host})
			case 5:
				_ = f.mgr.PostChat(c, fmt.Sprintf("line %d", i))
			case 6:
				gameID := "quitter"
				_ = f.mgr.ChangeSettings(c, &protocol.ChangeLobbySettings{GameID: &gameID})
				_ = f.mgr.AnnounceGame(c)
				for _, other := range clients {
					_ = f.mgr.AcknowledgeInit(other)
				}
			}
			checkInvariants(rt, f, clients)
		}
	})
}

func TestPropertyChatEvictsOldestFirst(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t, zap.NewNop())
		a, _ := f.connect()
		l, err := f.mgr.Create(a, "a", nil, "chat", false)
		if err != nil {
			rt.Fatal(err)
		}
		n := rapid.IntRange(0, 120).Draw(rt, "messages")
		for i := 0; i < n; i++ {
			_ = f.mgr.PostChat(a, fmt.Sprint(i))
		}
		chat := l.Chat()
		want := min(n, 50)
		if len(chat) != want {
			rt.Fatalf("chat has %d lines, want %d", len(chat), want)
		}
		for i, line := range chat {
			if exp := fmt.Sprintf("<a> %d", n-want+i); line != exp {
				rt.Fatalf("line %d = %q, want %q", i, line, exp)
			}
		}
	})
}

func TestPropertyNoOpPatchSendsNothing(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t, zap.NewNop())
		a, _ := f.connect()
		b, _ := f.connect()
		f.connect()
		title := rapid.StringMatching(`[A-Za-z ]{0,12}`).Draw(rt, "title")
		private := rapid.Bool().Draw(rt, "private")
		l, err := f.mgr.Create(a, "a", nil, title, private)
		if err != nil {
			rt.Fatal(err)
		}
		if err := f.mgr.Join(l.ID, b, "b"); err != nil {
			rt.Fatal(err)
		}
		f.resetAll()

		patch := &protocol.ChangeLobbySettings{}
		if rapid.Bool().Draw(rt, "with title") {
			patch.LobbyTitle = &title
		}
		if rapid.Bool().Draw(rt, "with private") {
			patch.Private = &private
		}
		if rapid.Bool().Draw(rt, "with host") {
			patch.HostID = &a.ID
		}
		if rapid.Bool().Draw(rt, "with settings") {
			patch.GameSettings = protocol.Settings{"max_players": 10}
		}
		if err := f.mgr.ChangeSettings(a, patch); err != nil {
			rt.Fatal(err)
		}
		for id, r := range f.recs {
			if msgs := r.Messages(); len(msgs) != 0 {
				rt.Fatalf("client %d received %d messages after a no-op patch", id, len(msgs))
			}
		}
		if got := l.Info(false, false).Title; got != title {
			rt.Fatalf("title changed to %q", got)
		}
	})
}
