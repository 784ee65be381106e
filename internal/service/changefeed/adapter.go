// Package changefeed forwards rows announced by an external change channel
// into a coalescing buffer keyed by source.
package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"detectstream/internal/logger"
	"detectstream/internal/model"
)

var (
	errAlreadyStarted = errors.New("change feed adapter already started")
	errStopped        = errors.New("change feed adapter stopped")
)

// Filter narrows a subscription. An empty SourceID delivers every source.
type Filter struct {
	SourceID string
}

// Handler receives records from a subscription. It may be called from any
// goroutine the channel owns.
type Handler func(record ChangeRecord)

// Channel is an external change-notification source.
type Channel interface {
	Subscribe(ctx context.Context, resource string, filter Filter, handle Handler) (Subscription, error)
}

// Subscription is a live channel subscription.
type Subscription interface {
	Unsubscribe() error
}

// Buffer is the coalescing buffer the adapter feeds.
type Buffer interface {
	Submit(key string, event model.RemoteChangeEvent)
	Shutdown()
}

// Stats counts what the adapter did with inbound records.
type Stats struct {
	Received  uint64 `json:"received"`
	Forwarded uint64 `json:"forwarded"`
	Ignored   uint64 `json:"ignored"`
	Malformed uint64 `json:"malformed"`
}

// Adapter subscribes once to one resource and submits every inserted row.
type Adapter struct {
	channel  Channel
	resource string
	filter   Filter
	buffer   Buffer
	logger   *logger.Logger

	mu      sync.Mutex
	sub     Subscription
	started bool
	stopped bool

	received  atomic.Uint64
	forwarded atomic.Uint64
	ignored   atomic.Uint64
	malformed atomic.Uint64
}

func NewAdapter(channel Channel, resource string, filter Filter, buffer Buffer, logger *logger.Logger) *Adapter {
	return &Adapter{
		channel:  channel,
		resource: resource,
		filter:   filter,
		buffer:   buffer,
		logger:   logger,
	}
}

// Start subscribes to the resource. It can be called once.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return errStopped
	}
	if a.started {
		return errAlreadyStarted
	}

	sub, err := a.channel.Subscribe(ctx, a.resource, a.filter, a.handle)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", a.resource, err)
	}
	a.sub = sub
	a.started = true

	if a.filter.SourceID != "" {
		a.logger.Info("📡 Subscribed to %s changes for source %s", a.resource, a.filter.SourceID)
	} else {
		a.logger.Info("📡 Subscribed to %s changes", a.resource)
	}
	return nil
}

func (a *Adapter) handle(record ChangeRecord) {
	a.received.Add(1)

	if !record.IsInsert() {
		a.ignored.Add(1)
		return
	}

	event, err := DecodeEvent(record.Record)
	if err != nil {
		a.malformed.Add(1)
		a.logger.Warning("Skipping %s change record: %v", a.resource, err)
		return
	}

	a.forwarded.Add(1)
	a.buffer.Submit(event.Key(), event)
}

// Stop unsubscribes and shuts the buffer down. Later calls are no-ops.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	sub := a.sub
	a.sub = nil
	a.mu.Unlock()

	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	a.buffer.Shutdown()

	if err != nil {
		return fmt.Errorf("unsubscribe from %s: %w", a.resource, err)
	}
	a.logger.Info("Change feed for %s stopped", a.resource)
	return nil
}

func (a *Adapter) Stats() Stats {
	return Stats{
		Received:  a.received.Load(),
		Forwarded: a.forwarded.Load(),
		Ignored:   a.ignored.Load(),
		Malformed: a.malformed.Load(),
	}
}
