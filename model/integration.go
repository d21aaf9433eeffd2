package model

import "time"

// IntegrationState describes how a commit reached an upstream branch.
type IntegrationState string

const (
	NotIntegrated      IntegrationState = "not-integrated"
	IntegratedDirectly IntegrationState = "direct"
	IntegratedViaMerge IntegrationState = "merge"
)

// Integration is the outcome of resolving a commit against an upstream branch.
// Commit is the merge that brought the target in, the target itself for
// direct integration, and empty when the target is not integrated yet.
type Integration struct {
	Target      string           `json:"target"`
	Branch      string           `json:"branch,omitempty"`
	State       IntegrationState `json:"state"`
	Commit      string           `json:"commit,omitempty"`
	Short       string           `json:"short,omitempty"`
	CommittedAt time.Time        `json:"committed_at,omitempty"`
}

// Integrated reports whether the target is reachable from the branch.
func (i Integration) Integrated() bool {
	return i.State == IntegratedDirectly || i.State == IntegratedViaMerge
}
