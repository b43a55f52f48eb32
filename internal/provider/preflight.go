package provider

import (
	"context"
	"fmt"

	"github.com/nexuscore/nexuscore/pkg/models"
)

// Preflight issues a minimal completion request to confirm the provider
// is reachable and credentialed before the daemon finishes starting,
// resolving SPEC_FULL.md §4.3's "preflight provider (discover model
// capabilities; fail start if required and unreachable)" step. A single
// round trip stands in for a capability probe since every Provider here
// exposes one uniform Complete call rather than a separate capabilities
// endpoint.
func Preflight(ctx context.Context, p Provider) error {
	_, err := p.Complete(ctx, CompletionRequest{
		Messages:  []models.Message{{Role: models.RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	if err != nil {
		return fmt.Errorf("provider %s: preflight failed: %w", p.Name(), err)
	}
	return nil
}
