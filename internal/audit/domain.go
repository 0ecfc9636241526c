package audit

import "time"

// Entry is an immutable audit record. ID and Timestamp are assigned by the
// Recorder at write time.
type Entry struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	UserID     string         `json:"user_id"`
	Role       string         `json:"role"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id,omitempty"`
	Changes    map[string]any `json:"changes,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Record is what callers hand to Append, which assigns the ID and timestamp.
type Record struct {
	TenantID   string
	UserID     string
	Role       string
	Action     string
	Resource   string
	ResourceID string
	Changes    map[string]any
	Metadata   map[string]any
}

// Filters narrows a tenant-scoped query. Empty fields match everything.
type Filters struct {
	UserID   string
	Resource string
	Action   string
	// Before keeps only entries that sort after the cursor, i.e. older ones.
	Before *Cursor
}

// Cursor is a position in the (timestamp, id) descending order. Paging by
// cursor is stable while new entries are appended.
type Cursor struct {
	At time.Time
	ID string
}

// CursorOf returns the position of e.
func CursorOf(e Entry) *Cursor {
	return &Cursor{At: e.Timestamp, ID: e.ID}
}

// After reports whether e sorts after c, i.e. is strictly older.
func (c Cursor) After(e Entry) bool {
	if !e.Timestamp.Equal(c.At) {
		return e.Timestamp.Before(c.At)
	}
	return e.ID < c.ID
}

// Page is one window of a query, most recent first.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

func (e Entry) clone() Entry {
	e.Changes = cloneMap(e.Changes)
	e.Metadata = cloneMap(e.Metadata)
	return e
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch typed := v.(type) {
		case map[string]any:
			out[k] = cloneMap(typed)
		case []any:
			cp := make([]any, len(typed))
			copy(cp, typed)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
