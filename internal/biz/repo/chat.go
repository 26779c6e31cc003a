package repo

import (
	"context"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
)

// ChatRepo is the chat repository interface
type ChatRepo interface {
	// FindByID gets a chat by its internal ID
	FindByID(ctx context.Context, id int64) (*domain.Chat, error)

	// FindByRawDataID gets a chat by the platform chat ID stored in its raw payload
	FindByRawDataID(ctx context.Context, nativeChatID string) (*domain.Chat, error)

	// FindAll lists all chats
	FindAll(ctx context.Context) ([]*domain.Chat, error)

	// SaveRange inserts chats with ID 0 (assigning their IDs) and updates the rest
	SaveRange(ctx context.Context, chats []*domain.Chat) error
}
