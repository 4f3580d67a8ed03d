// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// natsConn is the production conn backed by NATS JetStream, grounded on
// the durable-consumer/work-queue-retention vocabulary of the original
// NatsManager (dreambot/shared/nats.py).
type natsConn struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Dial connects to uri and returns a Manager wrapping that connection. fatal is invoked
// from the connection's async error handler when NATS reports a slow
// consumer, matching §7's BusFatal category.
func Dial(uri string, fatal func(err error)) (*Manager, error) {
	nc, err := nats.Connect(uri,
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			if errors.Is(err, nats.ErrSlowConsumer) {
				slog.Error("bus", "error", err, "msg", "slow consumer, this process must be restarted")
				if fatal != nil {
					fatal(ErrSlowConsumer)
				}
				return
			}
			slog.Error("bus", "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: connect %q: %w", uri, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: jetstream: %w", err)
	}
	c := &natsConn{nc: nc, js: js}
	return New(c, fatal), nil
}

func (c *natsConn) ensureStream(ctx context.Context) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  Subjects,
		Retention: jetstream.WorkQueuePolicy,
	})
	return err
}

func (c *natsConn) ensureConsumer(ctx context.Context, subject, durable string) (consumer, error) {
	cons, err := c.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		if isDuplicateConsumerErr(err) {
			return nil, &ErrDuplicateConsumer{Durable: durable}
		}
		return nil, err
	}
	return &natsConsumer{cons: cons}, nil
}

func (c *natsConn) publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.js.Publish(ctx, subject, data)
	return err
}

func (c *natsConn) close() {
	_ = c.nc.Drain()
}

// isDuplicateConsumerErr reports whether err indicates the durable
// consumer is already bound to an active puller elsewhere (a previous
// process's consumer during a fast restart), matching the original
// NatsManager.subscribe's BadRequestError catch.
func isDuplicateConsumerErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already") || strings.Contains(msg, "in use") || strings.Contains(msg, "exceeded")
}

// natsConsumer is the pull-side handle for one worker's durable consumer.
type natsConsumer struct {
	cons jetstream.Consumer
}

func (nc *natsConsumer) fetchOne(ctx context.Context, timeout time.Duration) (*inboundMsg, error) {
	batch, err := nc.cons.Fetch(1, jetstream.FetchMaxWait(timeout))
	if err != nil {
		return nil, err
	}
	var found *inboundMsg
	for msg := range batch.Messages() {
		msg := msg
		found = &inboundMsg{
			data: msg.Data(),
			ack:  func() error { return msg.Ack() },
			nak:  func() error { return msg.Nak() },
		}
	}
	if err := batch.Error(); err != nil && found == nil {
		return nil, err
	}
	if found == nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
			return nil, nil
		}
	}
	return found, nil
}
