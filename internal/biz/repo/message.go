package repo

import (
	"context"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
)

// MessageRepo is the message repository interface
// Find methods return (nil, nil) when no row matches
type MessageRepo interface {
	// FindByID gets a message by its internal ID
	FindByID(ctx context.Context, id int64) (*domain.Message, error)

	// FindByRawDataIDs gets a message by the platform message ID and platform chat ID
	// stored in its raw payload
	FindByRawDataIDs(ctx context.Context, nativeMessageID, nativeChatID string) (*domain.Message, error)

	// SaveRange inserts messages with ID 0 (assigning their IDs) and updates the rest
	SaveRange(ctx context.Context, messages []*domain.Message) error
}
