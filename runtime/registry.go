package runtime

import (
	"chat-roulette/contract"
	"chat-roulette/domain/chat"
	"chat-roulette/domain/matchmaking"

	"github.com/samber/lo"
)

type Set map[matchmaking.SessionID]struct{}

// Session is one live connection with its identity and pairing state.
// An empty Room means Unmatched.
type Session struct {
	ID          matchmaking.SessionID
	UserID      string
	DisplayName string
	Transport   contract.Transport
	Room        chat.RoomID

	// lastPartner is skipped by the next pairing pass after a roll or a leave
	lastPartner matchmaking.SessionID
	// rolled sessions yield priority to the ones they left behind
	rolled bool
	// pending holds contents waiting for the previous message to complete
	pending []string
	busy    bool
}

func (s *Session) InRoom() bool {
	return s.Room != ""
}

func (s *Session) Participant() chat.Participant {
	return chat.Participant{UserID: s.UserID, DisplayName: s.DisplayName}
}

func (s *Session) stale() bool {
	select {
	case <-s.Transport.Done():
		return true
	default:
		return false
	}
}

// Registry tracks sessions, the waiting pool and room membership.
// It belongs to the matchmaker goroutine and is never shared, so no lock.
// Pool membership and a session's Room are always updated together.
type Registry struct {
	sessions    map[matchmaking.SessionID]*Session
	waiting     Set
	roomMembers map[chat.RoomID]Set
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:    make(map[matchmaking.SessionID]*Session),
		waiting:     make(Set),
		roomMembers: make(map[chat.RoomID]Set),
	}
}

// Register adds a new Unmatched session to the pool.
func (r *Registry) Register(s *Session) {
	s.Room = ""
	r.sessions[s.ID] = s
	r.waiting[s.ID] = struct{}{}
}

func (r *Registry) Session(id matchmaking.SessionID) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Remove forgets a session everywhere and returns it.
func (r *Registry) Remove(id matchmaking.SessionID) (*Session, bool) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	delete(r.waiting, id)
	if members, ok := r.roomMembers[s.Room]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(r.roomMembers, s.Room)
		}
	}
	return s, true
}

// Enqueue puts an Unmatched session back into the pool.
func (r *Registry) Enqueue(id matchmaking.SessionID) {
	if s, ok := r.sessions[id]; ok && !s.InRoom() {
		r.waiting[id] = struct{}{}
	}
}

// AssignRoom moves two waiting sessions into a room in one step.
func (r *Registry) AssignRoom(roomID chat.RoomID, a, b *Session) {
	members := make(Set, 2)
	for _, s := range []*Session{a, b} {
		delete(r.waiting, s.ID)
		s.Room = roomID
		members[s.ID] = struct{}{}
	}
	r.roomMembers[roomID] = members
}

// ReleaseRoom turns every member of the room back to Unmatched, outside the pool,
// and drops what they still had queued for it.
func (r *Registry) ReleaseRoom(roomID chat.RoomID) []*Session {
	released := r.Members(roomID)
	for _, s := range released {
		s.Room = ""
		s.pending = nil
	}
	delete(r.roomMembers, roomID)
	return released
}

// Members resolves the sessions of a room, nil if the room is unknown.
func (r *Registry) Members(roomID chat.RoomID) []*Session {
	members, ok := r.roomMembers[roomID]
	if !ok {
		return nil
	}
	var sessions []*Session
	for id := range members {
		if s, exists := r.sessions[id]; exists {
			sessions = append(sessions, s)
		}
	}
	return sessions
}

func (r *Registry) Partner(s *Session) (*Session, bool) {
	if !s.InRoom() {
		return nil, false
	}
	return lo.Find(r.Members(s.Room), func(member *Session) bool {
		return member.ID != s.ID
	})
}

func (r *Registry) Waiting() []matchmaking.SessionID {
	return lo.Keys(r.waiting)
}

func (r *Registry) IsWaiting(id matchmaking.SessionID) bool {
	_, ok := r.waiting[id]
	return ok
}

func (r *Registry) HasUser(userID string) bool {
	return lo.SomeBy(lo.Values(r.sessions), func(s *Session) bool {
		return s.UserID == userID
	})
}

func (r *Registry) Sessions() []*Session {
	return lo.Values(r.sessions)
}

func (r *Registry) Status() matchmaking.Status {
	return matchmaking.Status{
		WaitingCount:   len(r.waiting),
		TotalConnected: len(r.sessions),
	}
}
