package repo

import (
	"context"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
)

// UserRepo is the user repository interface
type UserRepo interface {
	// FindByID gets a user by its internal ID
	FindByID(ctx context.Context, id int64) (*domain.User, error)

	// FindByRawDataID gets a user by the platform user ID stored in its raw payload
	FindByRawDataID(ctx context.Context, nativeUserID string) (*domain.User, error)

	// FindByRoleIDs lists users having any of the roles
	FindByRoleIDs(ctx context.Context, roles []domain.Role) ([]*domain.User, error)

	// FindAll lists all users
	FindAll(ctx context.Context) ([]*domain.User, error)

	// SaveRange inserts users with ID 0 (assigning their IDs) and updates the rest
	SaveRange(ctx context.Context, users []*domain.User) error
}
