package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	id "concord/pkg/domain"
	dErrors "concord/pkg/domain-errors"
	"concord/pkg/requestcontext"
)

// Sink receives audit entries after durable persistence, for fan-out to
// external consumers (SIEM, compliance pipelines). Sinks are best-effort: a
// sink failure never fails the originating operation.
type Sink interface {
	Publish(ctx context.Context, entry Entry) error
}

// Publisher is the single entry point for emitting audit entries. It writes
// to the durable store synchronously, then hands the entry to the outbox
// channel consumed by the Worker for sink fan-out.
type Publisher struct {
	store  Store
	outbox chan Entry
	logger *slog.Logger
}

// NewPublisher constructs a publisher. The outbox is bounded; when full,
// sink fan-out is dropped (the durable store write already succeeded).
func NewPublisher(store Store, logger *slog.Logger) *Publisher {
	return &Publisher{
		store:  store,
		outbox: make(chan Entry, 1024),
		logger: logger,
	}
}

// Emit persists the entry and queues it for sink fan-out. Missing ID,
// timestamp, and request ID are filled from the context.
func (p *Publisher) Emit(ctx context.Context, entry Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = requestcontext.Now(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}

	if err := p.store.Append(ctx, entry); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append audit entry")
	}

	select {
	case p.outbox <- entry:
	default:
		if p.logger != nil {
			p.logger.WarnContext(ctx, "audit outbox full, dropping sink fan-out",
				"action", entry.Action,
				"federation_id", entry.FederationID,
			)
		}
	}
	return nil
}

// List returns audit entries for a federation, oldest first.
func (p *Publisher) List(ctx context.Context, federationID id.FederationID, filter Filter) ([]Entry, error) {
	if filter.Limit <= 0 || filter.Limit > DefaultPageSize {
		filter.Limit = DefaultPageSize
	}
	entries, err := p.store.List(ctx, federationID, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit entries")
	}
	return entries, nil
}

// Outbox exposes the fan-out channel for the Worker.
func (p *Publisher) Outbox() <-chan Entry { return p.outbox }

// Worker drains the publisher outbox into sinks. Run blocks until the
// context is cancelled; it drains with a short grace period on shutdown.
type Worker struct {
	inbox  <-chan Entry
	sinks  []Sink
	logger *slog.Logger
}

func NewWorker(inbox <-chan Entry, logger *slog.Logger, sinks ...Sink) *Worker {
	return &Worker{inbox: inbox, sinks: sinks, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case entry := <-w.inbox:
			w.fanOut(ctx, entry)
		}
	}
}

func (w *Worker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case entry := <-w.inbox:
			w.fanOut(ctx, entry)
		default:
			return
		}
	}
}

func (w *Worker) fanOut(ctx context.Context, entry Entry) {
	for _, sink := range w.sinks {
		if err := sink.Publish(ctx, entry); err != nil && w.logger != nil {
			w.logger.WarnContext(ctx, "audit sink publish failed",
				"action", entry.Action,
				"error", err,
			)
		}
	}
}
