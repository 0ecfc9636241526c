package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Sink stores and queries audit entries.
type Sink interface {
	Insert(ctx context.Context, entry Entry) error
	Query(ctx context.Context, tenantID string, filters Filters, limit, offset int) ([]Entry, int, error)
}

// AppendObserver records append outcomes.
type AppendObserver interface {
	ObserveAuditAppend(status string)
}

// Recorder appends audit entries. Id and timestamp assignment is serialised
// and timestamps never decrease across the recorder, hence never within a
// tenant.
type Recorder struct {
	sink     Sink
	logger   *slog.Logger
	observer AppendObserver
	now      func() time.Time
	newID    func() (uuid.UUID, error)
	maxLimit int

	mu   sync.Mutex
	last time.Time
}

// NewRecorder constructs a Recorder over sink.
func NewRecorder(sink Sink, logger *slog.Logger, observer AppendObserver, maxLimit int) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		sink:     sink,
		logger:   logger,
		observer: observer,
		now:      time.Now,
		newID:    uuid.NewV7,
		maxLimit: maxLimit,
	}
}

// Append stores rec and returns the stored entry. A sink failure is returned
// wrapped in shared.ErrStorage and must be surfaced by the caller.
func (r *Recorder) Append(ctx context.Context, rec Record) (Entry, error) {
	if r == nil || r.sink == nil {
		return Entry{}, shared.StorageError("audit: append", errors.New("recorder not initialised"))
	}
	if err := validateRecord(rec); err != nil {
		return Entry{}, err
	}

	entry, err := r.stamp(rec)
	if err != nil {
		r.observe("failure")
		return Entry{}, shared.StorageError("audit: assign id", err)
	}
	if err := r.sink.Insert(ctx, entry); err != nil {
		r.observe("failure")
		r.logger.Error("audit append",
			slog.String("tenant_id", entry.TenantID),
			slog.String("action", entry.Action),
			slog.String("resource", entry.Resource),
			slog.Any("error", err))
		if errors.Is(err, shared.ErrStorage) {
			return Entry{}, err
		}
		return Entry{}, shared.StorageError("audit: append", err)
	}
	r.observe("success")
	return entry.clone(), nil
}

// Query returns a tenant's entries, most recent first, with the total number
// of matches.
func (r *Recorder) Query(ctx context.Context, tenantID string, filters Filters, limit, offset int) (Page, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Page{}, shared.ValidationError{Field: "tenant_id", Reason: "is required"}
	}
	limit, offset = shared.NormalizePage(limit, offset, r.maxLimit)
	filters = Filters{
		UserID:   strings.TrimSpace(filters.UserID),
		Resource: strings.TrimSpace(filters.Resource),
		Action:   strings.TrimSpace(filters.Action),
		Before:   filters.Before,
	}
	entries, total, err := r.sink.Query(ctx, tenantID, filters, limit, offset)
	if err != nil {
		if errors.Is(err, shared.ErrStorage) {
			return Page{}, err
		}
		return Page{}, shared.StorageError("audit: query", err)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.clone())
	}
	return Page{Entries: out, Total: total, Limit: limit, Offset: offset}, nil
}

func (r *Recorder) stamp(rec Record) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.newID()
	if err != nil {
		return Entry{}, err
	}
	// Postgres keeps microseconds; truncate so the returned entry matches storage.
	ts := r.now().UTC().Truncate(time.Microsecond)
	if ts.Before(r.last) {
		ts = r.last
	}
	r.last = ts
	tenantID := strings.TrimSpace(rec.TenantID)

	return Entry{
		ID:         id.String(),
		TenantID:   tenantID,
		UserID:     rec.UserID,
		Role:       rec.Role,
		Action:     rec.Action,
		Resource:   rec.Resource,
		ResourceID: rec.ResourceID,
		Changes:    cloneMap(rec.Changes),
		Metadata:   cloneMap(rec.Metadata),
		Timestamp:  ts,
	}, nil
}

func (r *Recorder) observe(status string) {
	if r.observer != nil {
		r.observer.ObserveAuditAppend(status)
	}
}

func validateRecord(rec Record) error {
	switch {
	case strings.TrimSpace(rec.TenantID) == "":
		return fmt.Errorf("audit: %w", shared.ValidationError{Field: "tenant_id", Reason: "is required"})
	case strings.TrimSpace(rec.Action) == "":
		return fmt.Errorf("audit: %w", shared.ValidationError{Field: "action", Reason: "is required"})
	case strings.TrimSpace(rec.Resource) == "":
		return fmt.Errorf("audit: %w", shared.ValidationError{Field: "resource", Reason: "is required"})
	}
	return nil
}
