package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/checkpoint"
	"github.com/louisbranch/dialog/internal/services/dialog/projection"
	"github.com/louisbranch/dialog/internal/services/dialog/storage"
	badgerstore "github.com/louisbranch/dialog/internal/services/dialog/storage/badger"
	"github.com/louisbranch/dialog/internal/services/dialog/storage/memory"
	"github.com/louisbranch/dialog/internal/services/dialog/storage/sqlite"
)

// stores holds the opened persistence backends.
type stores struct {
	events             storage.EventStore
	projections        storage.ProjectionStore
	projectionCursor   storage.CheckpointStore
	publishCheckpoints func(name string) storage.CheckpointStore
	durableCheckpoints bool
	closers            []func() error
}

func openStores(ctx context.Context, cfg Config) (*stores, error) {
	s := &stores{}
	if err := s.openEvents(ctx, cfg); err != nil {
		return nil, errors.Join(err, s.close())
	}
	if err := s.openProjections(ctx, cfg); err != nil {
		return nil, errors.Join(err, s.close())
	}
	return s, nil
}

func (s *stores) openEvents(ctx context.Context, cfg Config) error {
	switch cfg.EventStore {
	case StoreSQLite:
		store, err := sqlite.OpenEvents(ctx, cfg.EventsDBPath)
		if err != nil {
			return fmt.Errorf("open sqlite event store: %w", err)
		}
		s.events = store
		s.closers = append(s.closers, store.Close)
	case StoreBadger:
		store, err := badgerstore.Open(cfg.BadgerDir)
		if err != nil {
			return fmt.Errorf("open badger event store: %w", err)
		}
		s.events = store
		s.closers = append(s.closers, store.Close)
	default:
		s.events = memory.NewEventStore()
	}
	return nil
}

func (s *stores) openProjections(ctx context.Context, cfg Config) error {
	switch cfg.ProjectionStore {
	case StoreSQLite:
		store, err := sqlite.OpenProjections(ctx, cfg.ProjectionsDBPath)
		if err != nil {
			return fmt.Errorf("open sqlite projection store: %w", err)
		}
		s.projections = store
		s.projectionCursor = store.Checkpoints(projection.FollowerName)
		s.publishCheckpoints = func(name string) storage.CheckpointStore { return store.Checkpoints(name) }
		s.durableCheckpoints = true
		s.closers = append(s.closers, store.Close)
	default:
		s.projections = memory.NewProjectionStore()
		s.projectionCursor = checkpoint.NewMemory()
		s.publishCheckpoints = func(string) storage.CheckpointStore { return checkpoint.NewMemory() }
	}
	return nil
}

// close releases stores in reverse open order.
func (s *stores) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
