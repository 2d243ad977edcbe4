// ABOUTME: Striped per-conversation mutexes for session read-modify-write
// ABOUTME: Only serializes callers inside one process

package conversation

import "sync"

const lockStripes = 256

// stripedLocks maps a conversation id onto one of a fixed set of mutexes.
// Two conversations may share a stripe; that only costs contention.
type stripedLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *stripedLocks) lock(conversationID int64) func() {
	idx := uint64(conversationID) % lockStripes
	m := &l.stripes[idx]
	m.Lock()
	return m.Unlock
}
