package overrides

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

type memRepo struct {
	mu    sync.Mutex
	rows  map[string]PermissionOverride
	err   error
	gets  int
	clock time.Time
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[string]PermissionOverride), clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func repoKey(tenantID, permission string) string {
	return tenantID + "|" + permission
}

func (m *memRepo) Get(ctx context.Context, tenantID, permission string) (PermissionOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.err != nil {
		return PermissionOverride{}, m.err
	}
	if err := ctx.Err(); err != nil {
		return PermissionOverride{}, err
	}
	o, ok := m.rows[repoKey(tenantID, permission)]
	if !ok {
		return PermissionOverride{}, shared.ErrNotFound
	}
	return o, nil
}

func (m *memRepo) List(ctx context.Context, tenantID string) ([]PermissionOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []PermissionOverride
	for _, o := range m.rows {
		if o.TenantID == tenantID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PermissionName < out[j].PermissionName })
	return out, nil
}

func (m *memRepo) Insert(ctx context.Context, o PermissionOverride) (PermissionOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return PermissionOverride{}, m.err
	}
	k := repoKey(o.TenantID, o.PermissionName)
	if _, exists := m.rows[k]; exists {
		return PermissionOverride{}, fmt.Errorf("insert: %w", shared.ErrVersionConflict)
	}
	m.clock = m.clock.Add(time.Second)
	o.Version = 1
	o.CreatedAt = m.clock
	o.UpdatedAt = m.clock
	m.rows[k] = o
	return o, nil
}

func (m *memRepo) Update(ctx context.Context, o PermissionOverride, expectedVersion int64) (PermissionOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return PermissionOverride{}, m.err
	}
	k := repoKey(o.TenantID, o.PermissionName)
	current, exists := m.rows[k]
	if !exists {
		return PermissionOverride{}, shared.ErrNotFound
	}
	if current.Version != expectedVersion {
		return PermissionOverride{}, fmt.Errorf("update: %w", shared.ErrVersionConflict)
	}
	m.clock = m.clock.Add(time.Second)
	o.Version = current.Version + 1
	o.CreatedAt = current.CreatedAt
	o.UpdatedAt = m.clock
	m.rows[k] = o
	return o, nil
}

// InTx restores the rows fn saw when fn fails, like a rolled back
// transaction.
func (m *memRepo) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	snapshot := make(map[string]PermissionOverride, len(m.rows))
	for k, v := range m.rows {
		snapshot[k] = v
	}
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.rows = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

type stubRecorder struct {
	records []audit.Record
	err     error
}

func (s *stubRecorder) Append(ctx context.Context, rec audit.Record) (audit.Entry, error) {
	if s.err != nil {
		return audit.Entry{}, s.err
	}
	s.records = append(s.records, rec)
	return audit.Entry{ID: fmt.Sprintf("e%d", len(s.records)), TenantID: rec.TenantID, Action: rec.Action}, nil
}

var errUnreachable = errors.New("dial tcp: connection refused")
