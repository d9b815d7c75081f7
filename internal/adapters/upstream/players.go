package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/okian/soccer-tracker/internal/adapters/repository"
	"github.com/okian/soccer-tracker/internal/domain/model"
)

var _ repository.Store = (*Client)(nil)

func playerPath(id string) string { return "/players/" + url.PathEscape(id) }

func statPath(playerID, statID string) string {
	return playerPath(playerID) + "/stats/" + url.PathEscape(statID)
}

func (c *Client) ListPlayers(ctx context.Context) ([]model.Player, error) {
	var dtos []playerDTO
	if err := c.do(ctx, call{op: "list players", method: http.MethodGet, path: "/players", out: &dtos, retry: true}); err != nil {
		return nil, err
	}
	out := make([]model.Player, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, playerFromDTO(d))
	}
	return out, nil
}

func (c *Client) GetPlayer(ctx context.Context, id string) (model.Player, error) {
	var d playerDTO
	err := c.do(ctx, call{op: "get player", method: http.MethodGet, path: playerPath(id), out: &d, retry: true,
		notFound: repository.ErrPlayerNotFound})
	if err != nil {
		return model.Player{}, err
	}
	return playerFromDTO(d), nil
}

// CreatePlayer is not retried; the backend has no idempotency key.
func (c *Client) CreatePlayer(ctx context.Context, f model.PlayerFields) (model.Player, error) {
	if err := repository.ValidatePlayer(f); err != nil {
		return model.Player{}, err
	}
	var d playerDTO
	if err := c.do(ctx, call{op: "create player", method: http.MethodPost, path: "/players", body: playerToDTO(f), out: &d}); err != nil {
		return model.Player{}, err
	}
	return playerFromDTO(d), nil
}

func (c *Client) UpdatePlayer(ctx context.Context, id string, f model.PlayerFields) (model.Player, error) {
	if err := repository.ValidatePlayer(f); err != nil {
		return model.Player{}, err
	}
	var d playerDTO
	err := c.do(ctx, call{op: "update player", method: http.MethodPut, path: playerPath(id), body: playerToDTO(f), out: &d,
		retry: true, notFound: repository.ErrPlayerNotFound})
	if err != nil {
		return model.Player{}, err
	}
	return playerFromDTO(d), nil
}

func (c *Client) DeletePlayer(ctx context.Context, id string) error {
	return c.do(ctx, call{op: "delete player", method: http.MethodDelete, path: playerPath(id),
		notFound: repository.ErrPlayerNotFound})
}

func (c *Client) ListStats(ctx context.Context, playerID string) ([]model.StatRecord, error) {
	var dtos []statDTO
	err := c.do(ctx, call{op: "list stats", method: http.MethodGet, path: playerPath(playerID) + "/stats", out: &dtos,
		retry: true, notFound: repository.ErrPlayerNotFound})
	if err != nil {
		return nil, err
	}
	out := make([]model.StatRecord, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, withOwner(statFromDTO(d), playerID))
	}
	return out, nil
}

func (c *Client) GetStat(ctx context.Context, playerID, statID string) (model.StatRecord, error) {
	var d statDTO
	err := c.do(ctx, call{op: "get stat", method: http.MethodGet, path: statPath(playerID, statID), out: &d,
		retry: true, notFound: repository.ErrStatNotFound})
	if err != nil {
		return model.StatRecord{}, err
	}
	return withOwner(statFromDTO(d), playerID), nil
}

// CreateStat validates locally first so range errors never cost a round trip.
func (c *Client) CreateStat(ctx context.Context, playerID string, rec model.StatRecord) (model.StatRecord, error) {
	if err := repository.ValidateStat(rec); err != nil {
		return model.StatRecord{}, err
	}
	var d statDTO
	err := c.do(ctx, call{op: "create stat", method: http.MethodPost, path: playerPath(playerID) + "/stats",
		body: statToDTO(rec), out: &d, notFound: repository.ErrPlayerNotFound})
	if err != nil {
		return model.StatRecord{}, err
	}
	if d.ID == "" {
		return model.StatRecord{}, model.Errorf(model.KindUpstream, "create stat", "response carries no stat id")
	}
	return withOwner(statFromDTO(d), playerID), nil
}

func (c *Client) UpdateStat(ctx context.Context, playerID, statID string, rec model.StatRecord) (model.StatRecord, error) {
	if err := repository.ValidateStat(rec); err != nil {
		return model.StatRecord{}, err
	}
	var d statDTO
	err := c.do(ctx, call{op: "update stat", method: http.MethodPut, path: statPath(playerID, statID),
		body: statToDTO(rec), out: &d, retry: true, notFound: repository.ErrStatNotFound})
	if err != nil {
		return model.StatRecord{}, err
	}
	out := withOwner(statFromDTO(d), playerID)
	if out.ID == "" {
		out.ID = statID
	}
	return out, nil
}

func (c *Client) DeleteStat(ctx context.Context, playerID, statID string) error {
	err := c.do(ctx, call{op: "delete stat", method: http.MethodDelete, path: statPath(playerID, statID),
		notFound: repository.ErrStatNotFound})
	if err != nil {
		return fmt.Errorf("delete stat %s: %w", statID, err)
	}
	return nil
}

func withOwner(r model.StatRecord, playerID string) model.StatRecord {
	if r.PlayerID == "" {
		r.PlayerID = playerID
	}
	return r
}
