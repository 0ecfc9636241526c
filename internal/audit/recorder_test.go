package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

type memorySink struct {
	mu        sync.Mutex
	entries   []Entry
	insertErr error
	queryErr  error
}

func (m *memorySink) Insert(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.entries = append(m.entries, e.clone())
	return nil
}

func (m *memorySink) Query(ctx context.Context, tenantID string, f Filters, limit, offset int) ([]Entry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queryErr != nil {
		return nil, 0, m.queryErr
	}
	var matched []Entry
	for _, e := range m.entries {
		if e.TenantID != tenantID {
			continue
		}
		if (f.UserID != "" && e.UserID != f.UserID) || (f.Resource != "" && e.Resource != f.Resource) || (f.Action != "" && e.Action != f.Action) {
			continue
		}
		if f.Before != nil && !f.Before.After(e) {
			continue
		}
		matched = append(matched, e.clone())
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID > matched[j].ID
	})
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

type fixedClock struct {
	mu    sync.Mutex
	times []time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return t
}

func sampleRecord() Record {
	return Record{
		TenantID:   "T1",
		UserID:     "u1",
		Role:       "admin",
		Action:     "override.update",
		Resource:   "permission_override",
		ResourceID: "data.delete",
		Changes:    map[string]any{"active": true},
		Metadata:   map[string]any{"request_id": "abc"},
	}
}

func TestAppendAssignsDistinctIDsForIdenticalRecords(t *testing.T) {
	sink := &memorySink{}
	rec := NewRecorder(sink, nil, nil, 0)

	first, err := rec.Append(context.Background(), sampleRecord())
	require.NoError(t, err)
	second, err := rec.Append(context.Background(), sampleRecord())
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	_, err = uuid.Parse(first.ID)
	assert.NoError(t, err)
	assert.False(t, second.Timestamp.Before(first.Timestamp))
	assert.Len(t, sink.entries, 2)
}

func TestAppendTimestampsNeverDecreasePerTenant(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := &fixedClock{times: []time.Time{base, base.Add(-time.Minute), base.Add(-2 * time.Minute), base.Add(time.Minute)}}
	rec := NewRecorder(&memorySink{}, nil, nil, 0)
	rec.now = clock.now

	a, err := rec.Append(context.Background(), sampleRecord())
	require.NoError(t, err)
	b, err := rec.Append(context.Background(), sampleRecord())
	require.NoError(t, err)

	other := sampleRecord()
	other.TenantID = "T2"
	c, err := rec.Append(context.Background(), other)
	require.NoError(t, err)
	d, err := rec.Append(context.Background(), sampleRecord())
	require.NoError(t, err)

	assert.True(t, a.Timestamp.Equal(base))
	assert.True(t, b.Timestamp.Equal(base), "clock skew must not move a tenant backwards")
	assert.True(t, c.Timestamp.Equal(base), "a tenant first seen during skew is clamped too")
	assert.True(t, d.Timestamp.Equal(base.Add(time.Minute)), "stamps follow the clock once it recovers")
}

func TestAppendReturnsDetachedCopy(t *testing.T) {
	sink := &memorySink{}
	rec := NewRecorder(sink, nil, nil, 0)
	input := sampleRecord()

	entry, err := rec.Append(context.Background(), input)
	require.NoError(t, err)

	input.Changes["active"] = false
	entry.Metadata["request_id"] = "tampered"

	stored := sink.entries[0]
	assert.Equal(t, true, stored.Changes["active"])
	assert.Equal(t, "abc", stored.Metadata["request_id"])
}

func TestAppendSurfacesSinkFailure(t *testing.T) {
	observer := &statusObserver{}
	rec := NewRecorder(&memorySink{insertErr: errors.New("connection reset")}, nil, observer, 0)

	_, err := rec.Append(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrStorage)
	assert.Equal(t, []string{"failure"}, observer.statuses)
}

func TestAppendValidatesRecord(t *testing.T) {
	rec := NewRecorder(&memorySink{}, nil, nil, 0)
	for _, mutate := range []func(*Record){
		func(r *Record) { r.TenantID = " " },
		func(r *Record) { r.Action = "" },
		func(r *Record) { r.Resource = "" },
	} {
		r := sampleRecord()
		mutate(&r)
		_, err := rec.Append(context.Background(), r)
		assert.ErrorIs(t, err, shared.ErrValidation)
	}
}

func TestAppendNilRecorderIsStorageError(t *testing.T) {
	var rec *Recorder
	_, err := rec.Append(context.Background(), sampleRecord())
	assert.ErrorIs(t, err, shared.ErrStorage)
}

func TestAppendConcurrentCallersGetUniqueEntries(t *testing.T) {
	sink := &memorySink{}
	rec := NewRecorder(sink, nil, nil, 0)

	const workers = 50
	var wg sync.WaitGroup
	ids := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := rec.Append(context.Background(), sampleRecord())
			if err == nil {
				ids <- e.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{})
	for id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, workers)
	assert.Len(t, sink.entries, workers)
	for _, e := range sink.entries {
		assert.Equal(t, "T1", e.TenantID)
		assert.Equal(t, "override.update", e.Action)
	}
}

func TestQueryIsTenantScopedAndMostRecentFirst(t *testing.T) {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clock := &fixedClock{times: []time.Time{base, base.Add(time.Second), base.Add(2 * time.Second), base.Add(3 * time.Second)}}
	rec := NewRecorder(&memorySink{}, nil, nil, 2)
	rec.now = clock.now

	for i, tenant := range []string{"T1", "T2", "T1", "T1"} {
		r := sampleRecord()
		r.TenantID = tenant
		if i == 3 {
			r.UserID = "u2"
		}
		_, err := rec.Append(context.Background(), r)
		require.NoError(t, err)
	}

	page, err := rec.Query(context.Background(), "T1", Filters{}, 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Limit, "limit is capped by the recorder maximum")
	require.Len(t, page.Entries, 2)
	assert.True(t, page.Entries[0].Timestamp.After(page.Entries[1].Timestamp))
	for _, e := range page.Entries {
		assert.Equal(t, "T1", e.TenantID)
	}

	page, err = rec.Query(context.Background(), "T1", Filters{UserID: " u2 "}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	_, err = rec.Query(context.Background(), "", Filters{}, 10, 0)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestQuerySurfacesSinkFailure(t *testing.T) {
	rec := NewRecorder(&memorySink{queryErr: errors.New("timeout")}, nil, nil, 0)
	_, err := rec.Query(context.Background(), "T1", Filters{}, 10, 0)
	assert.ErrorIs(t, err, shared.ErrStorage)
}

type statusObserver struct {
	statuses []string
}

func (o *statusObserver) ObserveAuditAppend(status string) {
	o.statuses = append(o.statuses, status)
}
