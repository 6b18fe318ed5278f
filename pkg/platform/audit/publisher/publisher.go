// Package publisher fans audit events out to a configured store, either
// synchronously or through a buffered background worker.
package publisher

import (
	"context"
	"log/slog"
	"sync"

	audit "custodia/pkg/platform/audit"
	"custodia/pkg/platform/sentinel"
)

// Publisher emits audit events to a store. In async mode events are queued on
// a buffered channel and appended by a background worker; a full buffer drops
// the event rather than blocking the mutation path.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	inbox chan audit.Event
	done  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once
}

type Option func(*Publisher)

// WithAsyncBuffer enables asynchronous emission with the given buffer size.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.inbox = make(chan audit.Event, size)
	}
}

// WithLogger attaches a logger for dropped or failed events.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher constructs a publisher around the given store.
func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, done: make(chan struct{})}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case event := <-p.inbox:
					p.append(event)
				default:
					return
				}
			}
		case event := <-p.inbox:
			p.append(event)
		}
	}
}

func (p *Publisher) append(event audit.Event) {
	if err := p.store.Append(context.Background(), event); err != nil && p.logger != nil {
		p.logger.Error("failed to append audit event",
			"action", event.Action,
			"subject", event.Subject,
			"error", err,
		)
	}
}

// Emit records an audit event. Synchronous mode returns the store error;
// asynchronous mode never blocks and never fails the caller.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if p.inbox == nil {
		return p.store.Append(ctx, event)
	}

	select {
	case p.inbox <- event:
	default:
		if p.logger != nil {
			p.logger.Warn("audit buffer full, dropping event",
				"action", event.Action,
				"subject", event.Subject,
			)
		}
	}
	return nil
}

// ListBySubject serves reads when the underlying store retains events.
func (p *Publisher) ListBySubject(ctx context.Context, subject string) ([]audit.Event, error) {
	if lister, ok := p.store.(audit.Lister); ok {
		return lister.ListBySubject(ctx, subject)
	}
	return nil, sentinel.ErrUnavailable
}

// Close stops the background worker, draining queued events first.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}
