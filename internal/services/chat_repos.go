package services

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"promptly-backend/internal/repository"
)

// postgresRepos binds the chat store and index to a pool, or to a single
// transaction inside InTx.
type postgresRepos struct {
	pool  *pgxpool.Pool
	chats *repository.ChatRepo
	index *repository.ChatIndexRepo
}

func NewPostgresRepos(pool *pgxpool.Pool) ChatRepos {
	return &postgresRepos{
		pool:  pool,
		chats: repository.NewChatRepo(pool),
		index: repository.NewChatIndexRepo(pool),
	}
}

func (r *postgresRepos) Chats() ChatStore { return r.chats }

func (r *postgresRepos) Index() ChatIndex { return r.index }

func (r *postgresRepos) InTx(ctx context.Context, fn func(tx ChatRepos) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&postgresRepos{
			pool:  r.pool,
			chats: repository.NewChatRepo(tx),
			index: repository.NewChatIndexRepo(tx),
		})
	})
}
