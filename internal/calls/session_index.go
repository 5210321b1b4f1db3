package calls

import "sync"

// SessionIndex maps transient signaling identifiers (a request id before
// answer, a call id after) to durable call record ids.
//
// It is pure routing state scoped to one process: never persisted, rebuilt
// implicitly as calls progress. The durable store stays authoritative, which
// is why token lookups and orphan recovery never depend on this index.
//
// Construct one per process (or per test) and pass it explicitly; there is
// deliberately no package-level instance.
type SessionIndex struct {
	mu  sync.RWMutex
	ids map[string]string
}

func NewSessionIndex() *SessionIndex {
	return &SessionIndex{ids: make(map[string]string)}
}

// Put registers transientID -> recordID.
func (x *SessionIndex) Put(transientID, recordID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ids[transientID] = recordID
}

// Get resolves a transient id to a record id.
func (x *SessionIndex) Get(transientID string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	id, ok := x.ids[transientID]
	return id, ok
}

// Delete removes one entry. Unknown ids are a no-op.
func (x *SessionIndex) Delete(transientID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.ids, transientID)
}

// Swap atomically re-keys an entry from oldID to newID, used when the
// request id is retired in favor of the live call id at acceptance.
// Returns false if oldID was absent.
func (x *SessionIndex) Swap(oldID, newID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	recordID, ok := x.ids[oldID]
	if !ok {
		return false
	}
	delete(x.ids, oldID)
	x.ids[newID] = recordID
	return true
}

// DeleteRecord removes every entry resolving to recordID. Used when a record
// reaches a terminal status through a path that may have left stale transient
// ids behind (reconnect failure after the transport-level id changed).
func (x *SessionIndex) DeleteRecord(recordID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for k, v := range x.ids {
		if v == recordID {
			delete(x.ids, k)
		}
	}
}

// Len reports the number of live entries.
func (x *SessionIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}
