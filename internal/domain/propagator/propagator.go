// Package propagator performs stat writes through the persistence layer and,
// once a write is confirmed, replays the identical change into every
// analytics scope of the owning player.
package propagator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/soccer-tracker/internal/domain/dedupe"
	"github.com/okian/soccer-tracker/internal/domain/model"
	"github.com/okian/soccer-tracker/internal/domain/normalize"
	"github.com/okian/soccer-tracker/pkg/logger"
	"github.com/okian/soccer-tracker/pkg/metrics"
)

// StatWriter is the write half of the persistence collaborator.
type StatWriter interface {
	CreateStat(ctx context.Context, playerID string, rec model.StatRecord) (model.StatRecord, error)
	UpdateStat(ctx context.Context, playerID, statID string, rec model.StatRecord) (model.StatRecord, error)
	DeleteStat(ctx context.Context, playerID, statID string) error
}

// Notifier receives confirmed changes for a player. Changes passed in one
// call belong to a single batch and raise at most one recomputation.
type Notifier interface {
	Apply(playerID string, changes ...model.Change)
}

const lockStripes = 64

// Propagator is safe for concurrent use. Writes of one player are
// serialized so its scopes see changes in commit order.
type Propagator struct {
	store    StatWriter
	notifier Notifier
	dedupe   dedupe.Deduper
	logger   logger.Logger
	locks    [lockStripes]sync.Mutex
}

// New wires a propagator.
func New(store StatWriter, notifier Notifier, opts ...Option) *Propagator {
	p := &Propagator{store: store, notifier: notifier}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("propagator")
	}
	return p
}

// Add normalizes raw, persists it and propagates the stored record.
func (p *Propagator) Add(ctx context.Context, playerID string, raw map[string]any) (model.StatRecord, error) {
	defer p.lock(playerID)()
	rec, err := p.create(ctx, playerID, raw)
	if err != nil {
		return model.StatRecord{}, err
	}
	p.notifier.Apply(playerID, model.Change{Op: model.ChangeAdded, Record: rec})
	return rec, nil
}

// AddOnce is Add guarded by an idempotency key. A repeated key returns the
// first result without writing again.
func (p *Propagator) AddOnce(ctx context.Context, key, playerID string, raw map[string]any) (model.StatRecord, error) {
	if key == "" || p.dedupe == nil {
		return p.Add(ctx, playerID, raw)
	}
	scoped := playerID + "/" + key
	prev, done, err := p.dedupe.Claim(ctx, scoped)
	if err != nil {
		return model.StatRecord{}, model.NewError(model.KindValidation, "add stat", err)
	}
	if done {
		metrics.RecordDuplicateMutation()
		return prev, nil
	}
	rec, err := p.Add(ctx, playerID, raw)
	if err != nil {
		p.dedupe.Release(ctx, scoped)
		return model.StatRecord{}, err
	}
	p.dedupe.Complete(ctx, scoped, rec)
	return rec, nil
}

// AddBatch creates records in order and stops at the first failure. Records
// written before the failure are kept and propagated together.
func (p *Propagator) AddBatch(ctx context.Context, playerID string, raws []map[string]any) ([]model.StatRecord, error) {
	defer p.lock(playerID)()
	created := make([]model.StatRecord, 0, len(raws))
	changes := make([]model.Change, 0, len(raws))
	var firstErr error
	for i, raw := range raws {
		rec, err := p.create(ctx, playerID, raw)
		if err != nil {
			firstErr = fmt.Errorf("record %d: %w", i, err)
			break
		}
		created = append(created, rec)
		changes = append(changes, model.Change{Op: model.ChangeAdded, Record: rec})
	}
	if len(changes) > 0 {
		p.notifier.Apply(playerID, changes...)
	}
	return created, firstErr
}

// Update replaces statID with the normalized raw payload.
func (p *Propagator) Update(ctx context.Context, playerID, statID string, raw map[string]any) (model.StatRecord, error) {
	defer p.lock(playerID)()
	rec := normalize.Normalize(raw)
	rec.ID, rec.PlayerID = statID, playerID
	stored, err := p.store.UpdateStat(ctx, playerID, statID, rec)
	if err != nil {
		p.failed(ctx, "update", playerID, err)
		return model.StatRecord{}, err
	}
	metrics.RecordStatMutation("update", "ok")
	p.notifier.Apply(playerID, model.Change{Op: model.ChangeUpdated, Record: p.owned(stored, playerID, statID)})
	return stored, nil
}

// Remove deletes statID.
func (p *Propagator) Remove(ctx context.Context, playerID, statID string) error {
	defer p.lock(playerID)()
	if err := p.store.DeleteStat(ctx, playerID, statID); err != nil {
		p.failed(ctx, "delete", playerID, err)
		return err
	}
	metrics.RecordStatMutation("delete", "ok")
	p.notifier.Apply(playerID, model.Change{Op: model.ChangeRemoved, Record: model.StatRecord{ID: statID, PlayerID: playerID}})
	return nil
}

func (p *Propagator) create(ctx context.Context, playerID string, raw map[string]any) (model.StatRecord, error) {
	rec := normalize.Normalize(raw)
	rec.ID, rec.PlayerID = "", playerID
	stored, err := p.store.CreateStat(ctx, playerID, rec)
	if err != nil {
		p.failed(ctx, "create", playerID, err)
		return model.StatRecord{}, err
	}
	if stored.ID == "" {
		err = model.Errorf(model.KindUpstream, "create stat", "persistence returned a record without id")
		p.failed(ctx, "create", playerID, err)
		return model.StatRecord{}, err
	}
	metrics.RecordStatMutation("create", "ok")
	return p.owned(stored, playerID, stored.ID), nil
}

// lock holds the write stripe of playerID and returns its release.
func (p *Propagator) lock(playerID string) func() {
	m := &p.locks[xxhash.Sum64String(playerID)%lockStripes]
	m.Lock()
	return m.Unlock
}

// owned pins the identifiers a store may have omitted.
func (p *Propagator) owned(rec model.StatRecord, playerID, statID string) model.StatRecord {
	if rec.ID == "" {
		rec.ID = statID
	}
	if rec.PlayerID == "" {
		rec.PlayerID = playerID
	}
	return rec
}

func (p *Propagator) failed(ctx context.Context, op, playerID string, err error) {
	kind := model.KindOf(err)
	metrics.RecordStatMutation(op, string(kind))
	if errors.Is(err, model.ErrValidation) {
		p.logger.Debug(ctx, "stat mutation rejected", logger.String("op", op), logger.String("player_id", playerID), logger.Error(err))
		return
	}
	p.logger.Warn(ctx, "stat mutation failed", logger.String("op", op), logger.String("player_id", playerID), logger.Error(err))
}
