package room

import (
	"errors"
	"testing"
)

func checkInvariants(t *testing.T, s *Store) {
	t.Helper()
	seen := map[string]string{}
	for _, r := range s.Snapshot() {
		if len(r.Members) > Capacity {
			t.Fatalf("room %s has %d members", r.ID, len(r.Members))
		}
		if r.Status != StatusFor(len(r.Members)) {
			t.Fatalf("room %s status %s with %d members", r.ID, r.Status, len(r.Members))
		}
		for _, m := range r.Members {
			if other, ok := seen[m.ConnID]; ok {
				t.Fatalf("conn %s in rooms %s and %s", m.ConnID, other, r.ID)
			}
			seen[m.ConnID] = r.ID
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[int]Status{0: Empty, 1: Waiting, 2: Full}
	for n, want := range cases {
		if got := StatusFor(n); got != want {
			t.Fatalf("StatusFor(%d) = %s, want %s", n, got, want)
		}
	}
}

func TestFixedStoreStartsWithEmptyPool(t *testing.T) {
	s := NewFixedStore(5)
	rooms := s.Snapshot()
	if len(rooms) != 5 {
		t.Fatalf("expected 5 rooms, got %d", len(rooms))
	}
	for i, r := range rooms {
		if want := string(rune('1' + i)); r.ID != want {
			t.Fatalf("expected room id %s, got %s", want, r.ID)
		}
		if r.Status != Empty || len(r.Members) != 0 {
			t.Fatalf("room %s not empty: %+v", r.ID, r)
		}
	}
}

func TestJoinUntilFull(t *testing.T) {
	s := NewFixedStore(5)
	alice := Member{ConnID: "c1", Username: "alice"}
	bob := Member{ConnID: "c2", Username: "bob"}
	carol := Member{ConnID: "c3", Username: "carol"}

	if res := s.Join("1", alice); res != Joined {
		t.Fatalf("alice join: %s", res)
	}
	r, _ := s.Get("1")
	if r.Status != Waiting || len(r.Members) != 1 || r.Members[0] != alice {
		t.Fatalf("unexpected room after first join: %+v", r)
	}

	if res := s.Join("1", bob); res != Joined {
		t.Fatalf("bob join: %s", res)
	}
	r, _ = s.Get("1")
	if r.Status != Full || len(r.Members) != 2 || r.Members[1] != bob {
		t.Fatalf("unexpected room after second join: %+v", r)
	}

	if res := s.Join("1", carol); res != RoomFull {
		t.Fatalf("carol join: got %s, want RoomFull", res)
	}
	r, _ = s.Get("1")
	if len(r.Members) != 2 || r.Members[0] != alice || r.Members[1] != bob {
		t.Fatalf("members changed on rejected join: %+v", r.Members)
	}
	checkInvariants(t, s)
}

func TestJoinUnknownRoom(t *testing.T) {
	s := NewFixedStore(5)
	if res := s.Join("9", Member{ConnID: "c1"}); res != JoinRoomNotFound {
		t.Fatalf("got %s, want RoomNotFound", res)
	}
}

func TestLeave(t *testing.T) {
	s := NewFixedStore(2)
	s.Join("2", Member{ConnID: "c1", Username: "alice"})
	s.Join("2", Member{ConnID: "c2", Username: "bob"})

	tests := []struct {
		room, conn string
		want       LeaveResult
		status     Status
	}{
		{"7", "c1", LeaveRoomNotFound, Full},
		{"2", "c9", MemberNotFound, Full},
		{"2", "c1", Left, Waiting},
		{"2", "c2", RoomBecameEmpty, Empty},
		{"2", "c2", MemberNotFound, Empty},
	}
	for _, tt := range tests {
		if got := s.Leave(tt.room, tt.conn); got != tt.want {
			t.Fatalf("Leave(%s, %s) = %s, want %s", tt.room, tt.conn, got, tt.want)
		}
		r, _ := s.Get("2")
		if r.Status != tt.status {
			t.Fatalf("after Leave(%s, %s) status = %s, want %s", tt.room, tt.conn, r.Status, tt.status)
		}
		checkInvariants(t, s)
	}
}

func TestReset(t *testing.T) {
	s := NewFixedStore(3)
	s.Join("3", Member{ConnID: "c1", Username: "alice"})
	s.Join("3", Member{ConnID: "c2", Username: "bob"})

	if !s.Reset("3") {
		t.Fatal("expected reset to succeed")
	}
	r, _ := s.Get("3")
	if r.Status != Empty || len(r.Members) != 0 {
		t.Fatalf("room not reset: %+v", r)
	}
	if s.Reset("42") {
		t.Fatal("expected reset of unknown room to fail")
	}
	if res := s.Join("3", Member{ConnID: "c3"}); res != Joined {
		t.Fatalf("join after reset: %s", res)
	}
}

func TestFindByMember(t *testing.T) {
	s := NewFixedStore(5)
	s.Join("4", Member{ConnID: "c1", Username: "alice"})

	id, ok := s.FindByMember("c1")
	if !ok || id != "4" {
		t.Fatalf("FindByMember = %q, %v", id, ok)
	}
	if _, ok := s.FindByMember("c2"); ok {
		t.Fatal("expected unknown conn not to be found")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := NewFixedStore(1)
	s.Join("1", Member{ConnID: "c1", Username: "alice"})

	snap := s.Snapshot()
	snap[0].Members[0].Username = "mallory"
	snap[0].Status = Full

	r, _ := s.Get("1")
	if r.Members[0].Username != "alice" || r.Status != Waiting {
		t.Fatalf("snapshot aliased store state: %+v", r)
	}
}

func TestDynamicCreateDelete(t *testing.T) {
	s := NewDynamicStore()
	if len(s.Snapshot()) != 0 {
		t.Fatal("dynamic store should start empty")
	}

	a, err := s.Create("alice", "c1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := s.Create("bob", "c2", "arena")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a == b {
		t.Fatal("expected unique room ids")
	}

	rooms := s.Snapshot()
	if len(rooms) != 2 || rooms[0].ID != a || rooms[1].ID != b {
		t.Fatalf("unexpected snapshot order: %+v", rooms)
	}
	if rooms[0].Name != "alice's room" || rooms[0].Owner != "alice" || rooms[0].Status != Empty {
		t.Fatalf("unexpected created room: %+v", rooms[0])
	}
	if rooms[1].Name != "arena" || rooms[1].OwnerConnID != "c2" {
		t.Fatalf("unexpected created room: %+v", rooms[1])
	}

	ok, err := s.Delete(a)
	if err != nil || !ok {
		t.Fatalf("delete: %v, %v", ok, err)
	}
	ok, err = s.Delete(a)
	if err != nil || ok {
		t.Fatalf("second delete: %v, %v", ok, err)
	}
	if rooms := s.Snapshot(); len(rooms) != 1 || rooms[0].ID != b {
		t.Fatalf("unexpected snapshot after delete: %+v", rooms)
	}
}

func TestFixedStoreRejectsCreateDelete(t *testing.T) {
	s := NewFixedStore(5)
	if _, err := s.Create("alice", "c1", ""); !errors.Is(err, ErrStaticPool) {
		t.Fatalf("create: got %v, want ErrStaticPool", err)
	}
	if _, err := s.Delete("1"); !errors.Is(err, ErrStaticPool) {
		t.Fatalf("delete: got %v, want ErrStaticPool", err)
	}
	if len(s.Snapshot()) != 5 {
		t.Fatal("pool size changed")
	}
}

func TestNew(t *testing.T) {
	if _, err := New(Fixed, 0); err == nil {
		t.Fatal("expected error for empty pool")
	}
	if _, err := New("weird", 5); err == nil {
		t.Fatal("expected error for unknown mode")
	}
	s, err := New(Dynamic, 0)
	if err != nil || s.mode != Dynamic {
		t.Fatalf("New(Dynamic): %v, %v", s, err)
	}
}
