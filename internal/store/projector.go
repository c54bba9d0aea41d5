package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/atmx/polybet/internal/events"
)

// Projector appends every published envelope to the event log of a Store.
// Failures are logged and dropped; the engine state is already committed.
type Projector struct {
	store Store
	log   *slog.Logger
}

func NewProjector(s Store, log *slog.Logger) *Projector {
	if log == nil {
		log = slog.Default()
	}
	return &Projector{store: s, log: log}
}

func (p *Projector) Publish(ctx context.Context, envs ...events.Envelope) {
	for _, env := range envs {
		rec, err := env.Record()
		if err != nil {
			p.log.Error("encode event", "id", env.ID, "kind", env.Kind, "error", err)
			continue
		}
		if err := p.store.AppendEvent(ctx, rec); err != nil && !errors.Is(err, ErrDuplicateEvent) {
			p.log.Error("append event", "id", env.ID, "kind", env.Kind, "market", env.Source.Hex(), "error", err)
		}
	}
}
