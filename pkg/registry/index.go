package registry

import (
	"persistenceai/pkg/pathkey"
)

// index is the in-memory fold of snapshot plus log.
type index struct {
	seq   uint64
	byID  map[string]Session
	byKey map[pathkey.Key]map[string]struct{} // non-closed sessions only
}

func newIndex() *index {
	return &index{
		byID:  make(map[string]Session),
		byKey: make(map[pathkey.Key]map[string]struct{}),
	}
}

func (idx *index) put(s Session) {
	idx.byID[s.ID] = s

	if s.Closed() {
		idx.unbind(s.Key, s.ID)
		return
	}
	ids, ok := idx.byKey[s.Key]
	if !ok {
		ids = make(map[string]struct{})
		idx.byKey[s.Key] = ids
	}
	ids[s.ID] = struct{}{}
}

func (idx *index) drop(id string) {
	s, ok := idx.byID[id]
	if !ok {
		return
	}
	delete(idx.byID, id)
	idx.unbind(s.Key, id)
}

func (idx *index) unbind(key pathkey.Key, id string) {
	ids, ok := idx.byKey[key]
	if !ok {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(idx.byKey, key)
	}
}

// current returns the session bound to key: the Active one if any, otherwise
// the most recently accessed Idle one.
func (idx *index) current(key pathkey.Key) (Session, bool) {
	var (
		best  Session
		found bool
	)
	for id := range idx.byKey[key] {
		s := idx.byID[id]
		switch {
		case !found:
			best, found = s, true
		case s.State == StateActive && best.State != StateActive:
			best = s
		case s.State == best.State && s.LastAccessedAt.After(best.LastAccessedAt):
			best = s
		}
	}
	return best, found
}

// activeFor returns the Active session for key other than exceptID.
func (idx *index) activeFor(key pathkey.Key, exceptID string) (Session, bool) {
	for id := range idx.byKey[key] {
		if id == exceptID {
			continue
		}
		if s := idx.byID[id]; s.State == StateActive {
			return s, true
		}
	}
	return Session{}, false
}
