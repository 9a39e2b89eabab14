package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/louisbranch/dialog/internal/platform/id"
	"github.com/louisbranch/dialog/internal/services/dialog/api/httpapi"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/checkpoint"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/conversation"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/engine"
	"github.com/louisbranch/dialog/internal/services/dialog/domain/replay"
	"github.com/louisbranch/dialog/internal/services/dialog/projection"
	"github.com/louisbranch/dialog/internal/services/dialog/publish"
	"github.com/louisbranch/dialog/internal/services/dialog/query"
)

// Runtime is the assembled dialog service without its network listeners.
type Runtime struct {
	Handler     *engine.Handler
	Queries     *query.Service
	Projections *projection.Builder
	// Relays publish the event log, one per sink, each with its own checkpoints.
	Relays []*publish.Relay
	// Bus receives every relayed event for in-process subscribers.
	Bus *publish.Bus
	API *httpapi.Server

	stores  *stores
	closers []func() error
}

// NewRuntime opens the configured stores and wires the service.
func NewRuntime(ctx context.Context, cfg Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.logger()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{stores: st, Bus: publish.NewBus()}

	followerOpts := []replay.FollowerOption{replay.WithLogger(logger)}
	rt.Relays = append(rt.Relays, publish.NewRelay(publish.BusRelayName, st.events,
		st.publishCheckpoints(publish.BusRelayName), rt.Bus, followerOpts...))
	if cfg.RedisAddr != "" {
		warnVolatileEgress(ctx, logger, cfg, st.durableCheckpoints)
		client, err := publish.DialRedis(ctx, cfg.RedisAddr)
		if err != nil {
			_ = st.close()
			return nil, err
		}
		rt.closers = append(rt.closers, client.Close)
		rt.Relays = append(rt.Relays, publish.NewRelay(publish.RedisRelayName, st.events,
			st.publishCheckpoints(publish.RedisRelayName),
			publish.NewRedis(client, cfg.RedisChannelPrefix), followerOpts...))
	}

	commands, events, err := conversation.NewRegistries()
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("build registries: %w", err)
	}

	rt.Projections = projection.NewBuilder(st.events, st.projections, st.projectionCursor, followerOpts...)
	rt.Queries = query.NewService(st.projections)
	rt.Handler = &engine.Handler{
		Commands:      commands,
		Events:        events,
		Store:         st.events,
		Snapshots:     checkpoint.NewMemory(),
		Decider:       conversation.Decider{Policy: cfg.Policy},
		Applier:       conversation.Folder{},
		Notifiers:     rt.notifiers(),
		Retry:         cfg.Retry,
		RejectionCode: conversation.ErrorCode,
		Logger:        logger,
	}
	rt.API = httpapi.NewServer(rt.Handler, rt.Queries, rt.Projections, id.NewID,
		httpapi.WithLogger(logger), httpapi.WithEventStream(rt.Bus))
	return rt, nil
}

func (r *Runtime) notifiers() []engine.Notifier {
	notifiers := []engine.Notifier{r.Projections.Follower()}
	for _, relay := range r.Relays {
		notifiers = append(notifiers, relay)
	}
	return notifiers
}

// followers returns the run loops of the projection and publish followers.
func (r *Runtime) followers() []func(context.Context) error {
	runs := []func(context.Context) error{r.Projections.Follower().Run}
	for _, relay := range r.Relays {
		runs = append(runs, relay.Run)
	}
	return runs
}

// warnVolatileEgress flags external egress whose checkpoints do not survive a
// restart; every event is republished from seq 1 on the next start.
func warnVolatileEgress(ctx context.Context, logger *slog.Logger, cfg Config, durable bool) {
	if durable || cfg.RedisAddr == "" {
		return
	}
	logger.WarnContext(ctx, "redis egress checkpoints are in memory; events are republished after restart",
		slog.String("projection_store", cfg.ProjectionStore),
		slog.String("redis_addr", cfg.RedisAddr),
	)
}

// Close releases every store and client.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	if r.stores != nil {
		if err := r.stores.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
