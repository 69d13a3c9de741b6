package lobby

// Entry is a player who announced presence but holds no room.
type Entry struct {
	ConnID   string `json:"client_id"`
	Username string `json:"username"`
}

// Store holds the lobby in arrival order. It is not safe for concurrent use;
// the Lobby serializes access.
type Store struct {
	entries []Entry
}

func NewStore() *Store {
	return &Store{}
}

// Announce upserts the entry for username. A returning username keeps its
// place and takes over connID. An entry connID held under another username is
// dropped and returned.
func (s *Store) Announce(connID, username string) (displaced Entry, ok bool) {
	for i, e := range s.entries {
		if e.ConnID == connID && e.Username != username {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			displaced, ok = e, true
			break
		}
	}

	for i := range s.entries {
		if s.entries[i].Username == username {
			s.entries[i].ConnID = connID
			return displaced, ok
		}
	}
	s.entries = append(s.entries, Entry{ConnID: connID, Username: username})
	return displaced, ok
}

// Remove deletes and returns the entry held by connID.
func (s *Store) Remove(connID string) (Entry, bool) {
	for i, e := range s.entries {
		if e.ConnID == connID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return e, true
		}
	}
	return Entry{}, false
}

// Usernames lists the lobby in arrival order.
func (s *Store) Usernames() []string {
	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.Username
	}
	return names
}

func (s *Store) list() []Entry {
	entries := make([]Entry, len(s.entries))
	copy(entries, s.entries)
	return entries
}

func (s *Store) IsEmpty() bool {
	return len(s.entries) == 0
}
