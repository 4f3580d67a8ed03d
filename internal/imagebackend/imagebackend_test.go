// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package imagebackend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cmsj/dreambot-go/internal/envelope"
	"github.com/cmsj/dreambot-go/internal/worker"
)

// fakePush is an in-memory pushClient used so tests never dial a real
// websocket.
type fakePush struct {
	mu       sync.Mutex
	outbox   []map[string]string
	inbox    chan pushEvent
	closed   bool
}

func newFakePush() *fakePush {
	return &fakePush{inbox: make(chan pushEvent, 4)}
}

func (f *fakePush) ReadJSON(v interface{}) error {
	ev, ok := <-f.inbox
	if !ok {
		return context.Canceled
	}
	p := v.(*pushEvent)
	*p = ev
	return nil
}

func (f *fakePush) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := json.Marshal(v)
	var m map[string]string
	_ = json.Unmarshal(b, &m)
	f.outbox = append(f.outbox, m)
	return nil
}

func (f *fakePush) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbox)
	}
	return nil
}

func newTestBackend(t *testing.T, apiBase string) (*Backend, *fakePush) {
	t.Helper()
	fp := newFakePush()
	cfg := Config{
		APIBase:      apiBase,
		DefaultModel: "sd15",
		Models:       map[string]ModelConfig{"sd15": {Payload: map[string]interface{}{"model": "stable-diffusion-1.5"}}},
	}
	b := New(cfg, func(ctx context.Context) (pushClient, error) { return fp, nil })
	b.SetAddress(worker.Address(worker.Backend, "image", ""))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Boot(ctx)
	for !b.IsBooted() {
		time.Sleep(time.Millisecond)
	}
	return b, fp
}

func TestReceiveNotConnectedRedelivers(t *testing.T) {
	cfg := Config{DefaultModel: "sd15", Models: map[string]ModelConfig{"sd15": {}}}
	dialBlocked := make(chan struct{})
	b := New(cfg, func(ctx context.Context) (pushClient, error) {
		<-dialBlocked
		return nil, context.Canceled
	})
	b.SetAddress(worker.Address(worker.Backend, "image", ""))
	var sent *envelope.Envelope
	b.SetSender(func(_ context.Context, e *envelope.Envelope) error {
		sent = e
		return nil
	})
	e := &envelope.Envelope{To: "backend.image", ReplyTo: "frontend.irc.host", Trigger: "!dream", Prompt: "a cat"}
	if b.Receive(context.Background(), b.Address(), e) {
		t.Fatal("expected false (redeliver) while not connected to push channel")
	}
	if sent == nil || sent.Reply.Kind != envelope.ReplyError {
		t.Fatalf("expected an error reply to be sent anyway, got %+v", sent)
	}
	close(dialBlocked)
}

func TestReceiveListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected HTTP call for --list-models: %s", r.URL.Path)
	}))
	defer srv.Close()
	b, _ := newTestBackend(t, srv.URL)
	var sent *envelope.Envelope
	b.SetSender(func(_ context.Context, e *envelope.Envelope) error {
		sent = e
		return nil
	})
	e := &envelope.Envelope{To: "backend.image", ReplyTo: "frontend.irc.host", Trigger: "!dream", Prompt: "--list-models"}
	if !b.Receive(context.Background(), b.Address(), e) {
		t.Fatal("expected ack")
	}
	if sent == nil || sent.Reply.Kind != envelope.ReplyText {
		t.Fatalf("got %+v", sent)
	}
}

func TestReceiveFullRoundTrip(t *testing.T) {
	var invoked bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/sessions":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "sess1"})
		case r.Method == http.MethodPut && r.URL.Path == "/sessions/sess1/invoke":
			invoked = true
			w.WriteHeader(http.StatusAccepted)
		case r.URL.Path == "/images/results/out.png":
			w.Write([]byte("fake-png-bytes"))
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()
	b, fp := newTestBackend(t, srv.URL)
	var sent []*envelope.Envelope
	var mu sync.Mutex
	done := make(chan struct{}, 2)
	b.SetSender(func(_ context.Context, e *envelope.Envelope) error {
		mu.Lock()
		sent = append(sent, e)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	e := &envelope.Envelope{To: "backend.image", ReplyTo: "frontend.irc.host", Trigger: "!dream", Prompt: "a cat"}
	if !b.Receive(context.Background(), b.Address(), e) {
		t.Fatal("expected ack")
	}
	<-done
	if !invoked {
		t.Fatal("expected invoke PUT to have been called")
	}
	fp.inbox <- pushEvent{Type: "invocation_complete", SessionID: "sess1", ImageName: "out.png"}
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 2 {
		t.Fatalf("expected 2 envelopes sent, got %d", len(sent))
	}
	if sent[0].Reply.Kind != envelope.ReplyPending {
		t.Fatalf("first reply should be pending, got %+v", sent[0])
	}
	if sent[1].Reply.Kind != envelope.ReplyImage || string(sent[1].Reply.Image) != "fake-png-bytes" {
		t.Fatalf("second reply should carry the image, got %+v", sent[1])
	}
	if sent[1].To != "frontend.irc.host" {
		t.Fatalf("reply should route back to the frontend, got To=%q", sent[1].To)
	}
}
