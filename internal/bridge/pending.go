package bridge

import (
	"net/url"
)

// PendingTable maps correlation ids to the outbound payloads awaiting a
// delivery status report from Corrade. It is owned exclusively by the Engine
// goroutine, so no locking is needed. Entries without a matching status
// report are never evicted; this mirrors the original bridge behavior and
// the table size is exported as a gauge so the growth stays visible.
type PendingTable struct {
	entries map[string]url.Values
}

// NewPendingTable creates an empty pending acknowledgment table.
func NewPendingTable() *PendingTable {
	return &PendingTable{
		entries: make(map[string]url.Values),
	}
}

// Insert stores a payload under a correlation id. Ids are generated UUIDs,
// so an existing entry is silently overwritten.
func (t *PendingTable) Insert(id string, payload url.Values) {
	t.entries[id] = payload
}

// Remove deletes and returns the payload stored under id.
func (t *PendingTable) Remove(id string) (url.Values, bool) {
	payload, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return payload, ok
}

// Len returns the number of entries awaiting a status report.
func (t *PendingTable) Len() int {
	return len(t.entries)
}
