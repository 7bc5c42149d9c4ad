package core

import (
	"context"

	"github.com/dkeye/danmaku/internal/domain"
)

// RoomResolver resolves a room reference to session parameters.
type RoomResolver interface {
	Resolve(ctx context.Context, ref string) (*domain.Room, error)
	Admins(ctx context.Context, id domain.RoomID) ([]domain.Admin, error)
}

// FansSource fetches one page of the host's audience roster.
type FansSource interface {
	FetchPage(ctx context.Context, host domain.UserID, page int) (*domain.FansPage, error)
}

// SchemeSwitcher is implemented by API clients that follow the session's
// plain/encrypted transport choice.
type SchemeSwitcher interface {
	UseTLS(bool)
}
