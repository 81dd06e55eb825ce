package snapshot

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/replinet/replinet/pkg/snapshot"

// Checkpointer saves snapshots to a store and prunes old ones.
type Checkpointer struct {
	store  Store
	keep   int
	tracer trace.Tracer
	logger *slog.Logger
}

// CheckpointOption configures a Checkpointer.
type CheckpointOption func(*Checkpointer)

// WithKeep sets how many snapshots are kept after a save. Zero keeps all.
// Default: 10.
func WithKeep(n int) CheckpointOption {
	return func(c *Checkpointer) {
		c.keep = n
	}
}

// WithTracer sets the tracer for save spans.
// Default: otel.Tracer("github.com/replinet/replinet/pkg/snapshot").
func WithTracer(t trace.Tracer) CheckpointOption {
	return func(c *Checkpointer) {
		c.tracer = t
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) CheckpointOption {
	return func(c *Checkpointer) {
		c.logger = l
	}
}

// NewCheckpointer creates a checkpointer writing to store.
func NewCheckpointer(store Store, opts ...CheckpointOption) *Checkpointer {
	c := &Checkpointer{
		store:  store,
		keep:   10,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	c.logger = c.logger.With("component", "snapshot")
	return c
}

// Store returns the underlying store.
func (c *Checkpointer) Store() Store { return c.store }

// Save persists snap and prunes the store. Prune failures are logged and
// do not fail the save.
func (c *Checkpointer) Save(ctx context.Context, snap *Snapshot) error {
	ctx, span := c.tracer.Start(ctx, "replinet.snapshot.save",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("replinet.snapshot_id", snap.ID),
			attribute.Int("replinet.entities", len(snap.Entities)),
			attribute.Int64("replinet.tick", int64(snap.Tick)),
		),
	)
	defer span.End()

	if err := c.store.Save(ctx, snap); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("save failed", "snapshot", snap.ID, "error", err)
		return err
	}
	span.SetStatus(codes.Ok, "")

	deleted, err := Prune(ctx, c.store, c.keep)
	if err != nil {
		c.logger.Warn("prune failed", "error", err)
	}
	span.SetAttributes(attribute.Int("replinet.pruned", deleted))
	c.logger.Debug("saved", "snapshot", snap.ID, "entities", len(snap.Entities), "pruned", deleted)
	return nil
}
