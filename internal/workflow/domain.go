package workflow

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// State is the lifecycle position of a governed record.
type State string

const (
	StateDraft           State = "draft"
	StatePendingApproval State = "pending_approval"
	StateApproved        State = "approved"
	StateArchived        State = "archived"
)

var transitions = map[State][]State{
	StateDraft:           {StatePendingApproval, StateApproved},
	StatePendingApproval: {StateApproved, StateDraft, StateArchived},
	StateApproved:        {StateArchived},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("workflow: %s -> %s: %w", from, to, shared.ErrInvalidTransition)
	}
	return nil
}

// Record is the governance envelope of a business record kept by an external
// data store. Only its approval state is tracked here.
type Record struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Resource   string    `json:"resource"`
	ResourceID string    `json:"resource_id"`
	State      State     `json:"state"`
	CreatedBy  string    `json:"created_by"`
	ApprovedBy string    `json:"approved_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CreateInput describes a new governed record.
type CreateInput struct {
	Resource   string
	ResourceID string
	Draft      bool
	Metadata   map[string]any
}

// Permission names derived from a resource.
func createPermission(resource string) string  { return resource + ".create" }
func approvePermission(resource string) string { return resource + ".approve" }
func archivePermission(resource string) string { return resource + ".archive" }
