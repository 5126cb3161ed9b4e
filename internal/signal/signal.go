// Package signal delivers named notifications to whatever listens on them.
package signal

import (
	"context"
	"log"
)

// Handler reacts to a signal. Errors are logged by the dispatcher and never
// reach the publisher.
type Handler func(ctx context.Context, channel string) error

// Recorder is told about every publish, whether or not anyone listens.
type Recorder interface {
	RecordSignal(ctx context.Context, channel string) error
}

// Dispatcher routes Publish calls to subscribed handlers in subscription order.
type Dispatcher struct {
	handlers  map[string][]Handler
	published map[string]int
	recorder  Recorder
	logger    *log.Logger
}

// NewDispatcher returns a dispatcher. recorder may be nil.
func NewDispatcher(recorder Recorder, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		handlers:  make(map[string][]Handler),
		published: make(map[string]int),
		recorder:  recorder,
		logger:    logger,
	}
}

// Subscribe registers h for channel.
func (d *Dispatcher) Subscribe(channel string, h Handler) {
	d.handlers[channel] = append(d.handlers[channel], h)
}

// Publish fires channel. It is fire-and-forget: an empty channel name is
// ignored and handler failures are only logged.
func (d *Dispatcher) Publish(ctx context.Context, channel string) {
	if channel == "" {
		return
	}
	d.published[channel]++
	if d.recorder != nil {
		if err := d.recorder.RecordSignal(ctx, channel); err != nil {
			d.logger.Printf("signal %s: record: %v", channel, err)
		}
	}
	for _, h := range d.handlers[channel] {
		if err := h(ctx, channel); err != nil {
			d.logger.Printf("signal %s: handler: %v", channel, err)
		}
	}
}

// Published returns how many times channel was published.
func (d *Dispatcher) Published(channel string) int {
	return d.published[channel]
}
