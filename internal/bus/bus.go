// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bus is the C1 bus client and C3 bus manager: it owns the single
// connection to the message bus, assigns every registered worker a unique
// address, keeps a durable work-queue consumer alive per worker, and pumps
// envelopes into worker.Receive, acking according to the bus's
// acknowledgement law.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cmsj/dreambot-go/internal/envelope"
	"github.com/cmsj/dreambot-go/internal/worker"
)

// StreamName is the single stream that carries all traffic, per §6.
const StreamName = "dreambot"

// Subjects is the stream's subject filter, frontend.> union backend.>.
var Subjects = []string{"frontend.>", "backend.>"}

// fetchTimeout bounds each pull-consumer fetch; on timeout the pump loop
// just yields and fetches again, per §4.3 point 5.
const fetchTimeout = 500 * time.Millisecond

// bootPollInterval is how long the pump loop sleeps between IsBooted
// checks while a worker isn't ready yet.
const bootPollInterval = 200 * time.Millisecond

// duplicateConsumerBackoff matches the original NatsManager.subscribe's
// fixed 5s retry cadence on a duplicate-consumer rejection.
const duplicateConsumerBackoff = 5 * time.Second

// inboundMsg is a single bus delivery, abstracted away from the concrete
// transport so the pump loop can be tested without a live broker.
type inboundMsg struct {
	data []byte
	ack  func() error
	nak  func() error
}

// consumer is the pull-side handle for one worker's durable consumer.
type consumer interface {
	fetchOne(ctx context.Context, timeout time.Duration) (*inboundMsg, error)
}

// conn abstracts the bus connection that client and Manager need. The real
// implementation (natsConn, see nats.go) wraps nats.go/jetstream; tests
// substitute a fake, the same ports-and-adapters seam the rest of the
// system uses for its external services.
type conn interface {
	ensureStream(ctx context.Context) error
	ensureConsumer(ctx context.Context, subject, durable string) (consumer, error)
	publish(ctx context.Context, subject string, data []byte) error
	close()
}

// ErrDuplicateConsumer is returned by a conn implementation when the bus
// rejects a consumer attach because a previous process's consumer of the
// same name/subject hasn't expired yet (see §4.3 point 6).
type ErrDuplicateConsumer struct {
	Durable string
}

func (e *ErrDuplicateConsumer) Error() string {
	return fmt.Sprintf("duplicate consumer rejection for %q", e.Durable)
}

// ErrSlowConsumer is surfaced by a conn implementation's connection-level
// error handler; the manager treats it as bus-fatal (§7 BusFatal) and the
// caller is expected to exit the process.
var ErrSlowConsumer = fmt.Errorf("slow consumer")

// Manager is C3: it owns the bus connection and pumps messages into every
// registered worker.
type Manager struct {
	c       conn
	workers []worker.Worker
	onFatal func(err error)

	mu      sync.Mutex
	cancels []context.CancelFunc
}

// New wraps a conn (see Dial) into a Manager. onFatal is invoked when the
// bus reports a condition this process cannot recover from in-place (§7
// BusFatal), possibly more than once; the cmd/ launchers cancel their
// context from it, which shuts the process down.
func New(c conn, onFatal func(err error)) *Manager {
	return &Manager{c: c, onFatal: onFatal}
}

// Register assigns w its address and spawns its pump loop once Boot is
// called. name/subname follow the worker addressing scheme (§3).
func (m *Manager) Register(end worker.End, name, subname string, w worker.Worker) {
	addr := worker.Address(end, name, subname)
	w.SetAddress(addr)
	w.SetSender(func(ctx context.Context, e *envelope.Envelope) error {
		return m.publish(ctx, e)
	})
	m.workers = append(m.workers, w)
}

// Boot ensures the shared stream exists, then starts one pump goroutine
// per registered worker and the workers' own Boot methods. It blocks
// until ctx is cancelled or a worker's Boot/pump returns a fatal error.
func (m *Manager) Boot(ctx context.Context) error {
	if err := m.c.ensureStream(ctx); err != nil {
		return fmt.Errorf("bus: ensure stream: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range m.workers {
		w := w
		wctx, cancel := context.WithCancel(gctx)
		m.mu.Lock()
		m.cancels = append(m.cancels, cancel)
		m.mu.Unlock()
		g.Go(func() error {
			return w.Boot(wctx)
		})
		g.Go(func() error {
			return m.pump(wctx, w)
		})
	}
	return g.Wait()
}

// Shutdown cancels every pump task and gives in-flight acks a bounded
// grace period to drain before closing the connection (§4.3 point 8).
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	cancels := m.cancels
	m.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	grace := 5 * time.Second
	select {
	case <-ctx.Done():
	case <-time.After(grace):
	}
	var errs []error
	for _, w := range m.workers {
		if err := w.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	m.c.close()
	return errors.Join(errs...)
}

// publish encodes e as JSON and publishes it on e.To, censoring
// reply-image before logging per the wire contract's redaction
// requirement.
func (m *Manager) publish(ctx context.Context, e *envelope.Envelope) error {
	data, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("bus: marshal envelope: %w", err)
	}
	red := e.Redacted()
	slog.Debug("bus", "subject", e.To, "envelope", red)
	if err := m.c.publish(ctx, e.To, data); err != nil {
		return fmt.Errorf("bus: publish %q: %w", e.To, err)
	}
	return nil
}

// pump attaches a durable consumer for w's address and feeds envelopes to
// w.Receive one at a time, acking per the acknowledgement law (§8
// property 3): ack iff Receive returns non-false, or Receive panics
// (poison-message policy, §7).
func (m *Manager) pump(ctx context.Context, w worker.Worker) error {
	subject := w.Address()
	durable := strings.ReplaceAll(subject, ".", "_")

	var cons consumer
	for {
		if ctx.Err() != nil {
			return nil
		}
		c, err := m.c.ensureConsumer(ctx, subject, durable)
		if err == nil {
			cons = c
			break
		}
		var dup *ErrDuplicateConsumer
		if isDuplicateConsumer(err, &dup) {
			slog.Warn("bus", "worker", subject, "msg", "duplicate consumer rejection, backing off")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(duplicateConsumerBackoff):
			}
			continue
		}
		if err == ErrSlowConsumer {
			if m.onFatal != nil {
				m.onFatal(err)
			}
			return err
		}
		return fmt.Errorf("bus: attach consumer for %q: %w", subject, err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := cons.fetchOne(ctx, fetchTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Fetch timeout: yield and try again (§4.3 point 5).
			continue
		}
		if msg == nil {
			continue
		}
		if !w.IsBooted() {
			// Hold delivery until the worker has finished booting, then
			// redeliver by not acking.
			if msg.nak != nil {
				_ = msg.nak()
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(bootPollInterval):
			}
			continue
		}
		e := &envelope.Envelope{}
		if err := e.Unmarshal(msg.data); err != nil {
			slog.Error("bus", "worker", subject, "error", err, "msg", "undecodable envelope, acking and dropping")
			_ = msg.ack()
			continue
		}
		ok := m.invokeReceive(ctx, w, subject, e)
		if ok {
			_ = msg.ack()
		} else {
			_ = msg.nak()
		}
	}
}

// invokeReceive calls w.Receive and recovers from a panic, treating it as
// the Poison category from §7: log, ack (by reporting true), continue.
func (m *Manager) invokeReceive(ctx context.Context, w worker.Worker, subject string, e *envelope.Envelope) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus", "worker", subject, "panic", r, "msg", "poison message, acking and continuing")
			ok = true
		}
	}()
	return w.Receive(ctx, subject, e)
}

func isDuplicateConsumer(err error, target **ErrDuplicateConsumer) bool {
	if d, ok := err.(*ErrDuplicateConsumer); ok {
		*target = d
		return true
	}
	return false
}

