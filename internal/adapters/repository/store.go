// Package repository is the persistence collaborator: players and their
// per-match statistics, held in memory or in an embedded SQLite file.
package repository

import (
	"context"

	"github.com/okian/soccer-tracker/internal/domain/model"
)

// Store provides CRUD access to players and stats. Identifiers are assigned
// by the store. Records come back in insertion order.
type Store interface {
	ListPlayers(ctx context.Context) ([]model.Player, error)
	// GetPlayer returns ErrPlayerNotFound for an unknown id.
	GetPlayer(ctx context.Context, id string) (model.Player, error)
	CreatePlayer(ctx context.Context, f model.PlayerFields) (model.Player, error)
	UpdatePlayer(ctx context.Context, id string, f model.PlayerFields) (model.Player, error)
	// DeletePlayer removes the player together with its stats.
	DeletePlayer(ctx context.Context, id string) error

	// ListStats returns ErrPlayerNotFound when the player does not exist.
	ListStats(ctx context.Context, playerID string) ([]model.StatRecord, error)
	// GetStat returns ErrStatNotFound unless statID belongs to playerID.
	GetStat(ctx context.Context, playerID, statID string) (model.StatRecord, error)
	CreateStat(ctx context.Context, playerID string, rec model.StatRecord) (model.StatRecord, error)
	UpdateStat(ctx context.Context, playerID, statID string, rec model.StatRecord) (model.StatRecord, error)
	DeleteStat(ctx context.Context, playerID, statID string) error

	Close() error
}

// Counts reports how many rows a store holds.
type Counts struct {
	Players int
	Stats   int
}
