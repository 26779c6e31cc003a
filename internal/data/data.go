package data

import (
	"context"
	"fmt"

	"github.com/devricklin/feishu-messenger/internal/biz/repo"
)

// Supported database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Repositories contains all repositories
type Repositories struct {
	Chat    repo.ChatRepo
	User    repo.UserRepo
	Message repo.MessageRepo

	close func() error
}

// Close releases the underlying database
func (r *Repositories) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

type store interface {
	Chats() repo.ChatRepo
	Users() repo.UserRepo
	Messages() repo.MessageRepo
	Close() error
}

// NewRepositories opens the database selected by driver and creates all repositories.
// sqlite uses dbPath, postgres uses dsn.
func NewRepositories(ctx context.Context, driver, dbPath, dsn string) (*Repositories, error) {
	var (
		s   store
		err error
	)
	switch driver {
	case DriverSQLite, "":
		s, err = OpenSQLite(dbPath)
	case DriverPostgres:
		s, err = OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	return &Repositories{
		Chat:    s.Chats(),
		User:    s.Users(),
		Message: s.Messages(),
		close:   s.Close,
	}, nil
}
