package net

// SessionStore tracks live feed sessions. Game loop only.
type SessionStore struct {
	sessions map[uint64]*Session
	order    []uint64 // connect order, for deterministic broadcast
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[uint64]*Session)}
}

func (st *SessionStore) Add(s *Session) {
	if _, ok := st.sessions[s.ID]; ok {
		return
	}
	st.sessions[s.ID] = s
	st.order = append(st.order, s.ID)
}

func (st *SessionStore) Remove(id uint64) *Session {
	s, ok := st.sessions[id]
	if !ok {
		return nil
	}
	delete(st.sessions, id)
	for i, v := range st.order {
		if v == id {
			st.order = append(st.order[:i], st.order[i+1:]...)
			break
		}
	}
	return s
}

func (st *SessionStore) Get(id uint64) *Session {
	return st.sessions[id]
}

func (st *SessionStore) Len() int {
	return len(st.sessions)
}

// ForEach visits sessions in connect order.
func (st *SessionStore) ForEach(fn func(*Session)) {
	for _, id := range st.order {
		fn(st.sessions[id])
	}
}

// IDs returns session ids in connect order.
func (st *SessionStore) IDs() []uint64 {
	return append([]uint64(nil), st.order...)
}
