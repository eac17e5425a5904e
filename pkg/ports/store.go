package ports

import (
	"context"

	"github.com/aretw0/canopy/pkg/domain"
)

// RunStore persists the latest run of each conversation, so its history and
// environment can be observed after the stream completes.
type RunStore interface {
	// Save persists the run state for a conversation.
	Save(ctx context.Context, conversationID string, state *domain.RunState) error

	// Load retrieves the run state of a conversation.
	// Returns domain.ErrRunNotFound if nothing was stored.
	Load(ctx context.Context, conversationID string) (*domain.RunState, error)

	// Delete removes the stored run. Deleting an absent conversation is not an error.
	Delete(ctx context.Context, conversationID string) error

	// List returns the conversations with a stored run.
	List(ctx context.Context) ([]string, error)
}
