package repo

import (
	"context"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
)

// CommandDispatcher hands bot commands over to the command subsystem
type CommandDispatcher interface {
	// TryEnqueueCommand queues the command carried by msg.
	// Returns false when the command is unknown.
	TryEnqueueCommand(ctx context.Context, msg *domain.Message) (bool, error)

	// OnCommandCompleted registers the callback receiving command results
	OnCommandCompleted(handler func(result domain.CommandResult))
}
