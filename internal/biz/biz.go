package biz

import (
	"github.com/devricklin/feishu-messenger/internal/biz/repo"
	"github.com/devricklin/feishu-messenger/internal/biz/usecase"
)

// Usecases contains all usecases
type Usecases struct {
	MessageSaver *usecase.MessageSaver
}

// NewUsecases creates all usecases
func NewUsecases(chats repo.ChatRepo, users repo.UserRepo, messages repo.MessageRepo) *Usecases {
	return &Usecases{
		MessageSaver: usecase.NewMessageSaver(chats, users, messages),
	}
}
