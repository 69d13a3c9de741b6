// Package room holds the rooms two players meet in and derives each room's
// status from its occupancy.
package room

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Capacity is the maximum number of members of a room.
const Capacity = 2

// ErrStaticPool is returned when creating or deleting a room in fixed mode.
var ErrStaticPool = errors.New("rooms are a fixed pool")

type Status string

const (
	Empty   Status = "empty"
	Waiting Status = "waiting"
	Full    Status = "full"
)

// StatusFor maps a member count to its room status.
func StatusFor(members int) Status {
	switch {
	case members <= 0:
		return Empty
	case members < Capacity:
		return Waiting
	default:
		return Full
	}
}

// Mode selects how rooms come into existence.
type Mode string

const (
	// Fixed pre-provisions a pool of rooms at startup which are reset, never
	// destroyed.
	Fixed Mode = "fixed"
	// Dynamic creates and deletes rooms on request.
	Dynamic Mode = "dynamic"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Fixed, Dynamic:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown room mode %q", s)
}

// Member is a player occupying a room.
type Member struct {
	ConnID   string `json:"client_id"`
	Username string `json:"username"`
}

type Room struct {
	ID          string   `json:"roomId"`
	Name        string   `json:"name"`
	Owner       string   `json:"owner"`
	OwnerConnID string   `json:"ownerId,omitempty"`
	Status      Status   `json:"status"`
	Members     []Member `json:"players"`
}

func (r *Room) copy() Room {
	c := *r
	c.Members = make([]Member, len(r.Members))
	copy(c.Members, r.Members)
	return c
}

func (r *Room) indexOf(connID string) int {
	for i, m := range r.Members {
		if m.ConnID == connID {
			return i
		}
	}
	return -1
}

type JoinResult int

const (
	Joined JoinResult = iota
	RoomFull
	JoinRoomNotFound
)

func (r JoinResult) String() string {
	switch r {
	case Joined:
		return "Joined"
	case RoomFull:
		return "RoomFull"
	case JoinRoomNotFound:
		return "RoomNotFound"
	}
	return "JoinResult(" + strconv.Itoa(int(r)) + ")"
}

type LeaveResult int

const (
	Left LeaveResult = iota
	RoomBecameEmpty
	MemberNotFound
	LeaveRoomNotFound
)

func (r LeaveResult) String() string {
	switch r {
	case Left:
		return "Left"
	case RoomBecameEmpty:
		return "RoomBecameEmpty"
	case MemberNotFound:
		return "MemberNotFound"
	case LeaveRoomNotFound:
		return "RoomNotFound"
	}
	return "LeaveResult(" + strconv.Itoa(int(r)) + ")"
}

// Store holds every room in creation order. It is not safe for concurrent
// use; callers serialize access.
type Store struct {
	mode  Mode
	rooms map[string]*Room
	order []string
	newID func() string
}

// New builds a Store for mode. poolSize is the number of rooms provisioned in
// Fixed mode and is ignored in Dynamic mode.
func New(mode Mode, poolSize int) (*Store, error) {
	switch mode {
	case Fixed:
		if poolSize <= 0 {
			return nil, fmt.Errorf("room pool size must be positive, got %d", poolSize)
		}
		return NewFixedStore(poolSize), nil
	case Dynamic:
		return NewDynamicStore(), nil
	}
	return nil, fmt.Errorf("unknown room mode %q", mode)
}

// NewFixedStore provisions rooms "1" through size.
func NewFixedStore(size int) *Store {
	s := &Store{
		mode:  Fixed,
		rooms: make(map[string]*Room, size),
	}
	for i := 1; i <= size; i++ {
		id := strconv.Itoa(i)
		s.rooms[id] = &Room{
			ID:      id,
			Name:    "Room " + id,
			Status:  Empty,
			Members: []Member{},
		}
		s.order = append(s.order, id)
	}
	return s
}

func NewDynamicStore() *Store {
	return &Store{
		mode:  Dynamic,
		rooms: make(map[string]*Room),
		newID: func() string { return uuid.New().String() },
	}
}

// Create allocates an empty room owned by ownerUsername.
func (s *Store) Create(ownerUsername, ownerConnID, name string) (string, error) {
	if s.mode != Dynamic {
		return "", ErrStaticPool
	}
	id := s.newID()
	if name == "" {
		name = ownerUsername + "'s room"
	}
	s.rooms[id] = &Room{
		ID:          id,
		Name:        name,
		Owner:       ownerUsername,
		OwnerConnID: ownerConnID,
		Status:      Empty,
		Members:     []Member{},
	}
	s.order = append(s.order, id)
	return id, nil
}

// Delete removes a room, reporting whether it existed.
func (s *Store) Delete(id string) (bool, error) {
	if s.mode != Dynamic {
		return false, ErrStaticPool
	}
	if _, ok := s.rooms[id]; !ok {
		return false, nil
	}
	delete(s.rooms, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Join appends member to the room while it has a free seat.
func (s *Store) Join(id string, member Member) JoinResult {
	r, ok := s.rooms[id]
	if !ok {
		return JoinRoomNotFound
	}
	if len(r.Members) >= Capacity {
		return RoomFull
	}
	r.Members = append(r.Members, member)
	r.Status = StatusFor(len(r.Members))
	return Joined
}

// Leave removes the member holding connID from the room.
func (s *Store) Leave(id, connID string) LeaveResult {
	r, ok := s.rooms[id]
	if !ok {
		return LeaveRoomNotFound
	}
	i := r.indexOf(connID)
	if i < 0 {
		return MemberNotFound
	}
	r.Members = append(r.Members[:i], r.Members[i+1:]...)
	r.Status = StatusFor(len(r.Members))
	if len(r.Members) == 0 {
		return RoomBecameEmpty
	}
	return Left
}

// Reset empties the room after a game.
func (s *Store) Reset(id string) bool {
	r, ok := s.rooms[id]
	if !ok {
		return false
	}
	r.Members = []Member{}
	r.Status = Empty
	return true
}

// FindByMember returns the id of the room connID occupies.
func (s *Store) FindByMember(connID string) (string, bool) {
	for _, id := range s.order {
		if s.rooms[id].indexOf(connID) >= 0 {
			return id, true
		}
	}
	return "", false
}

func (s *Store) Get(id string) (Room, bool) {
	r, ok := s.rooms[id]
	if !ok {
		return Room{}, false
	}
	return r.copy(), true
}

// Snapshot returns a copy of every room in creation order.
func (s *Store) Snapshot() []Room {
	rooms := make([]Room, 0, len(s.order))
	for _, id := range s.order {
		rooms = append(rooms, s.rooms[id].copy())
	}
	return rooms
}
