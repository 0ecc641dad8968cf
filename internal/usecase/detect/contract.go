package detect

import "context"

// Admitter gates model calls per organization.
type Admitter interface {
	TryAdmit(ctx context.Context, orgID string) bool
}

// Prompts provides the classification instruction.
type Prompts interface {
	Detection() string
}
