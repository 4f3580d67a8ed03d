// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package imagebackend implements the C7 HTTP+push backend: one request is
// POSTed to a pipeline-graph HTTP API, then the image is delivered
// asynchronously once the service's push channel reports completion.
// Grounded on the original's invokeai.py (session/push-channel shape) and
// a1111.py (argument parsing, model selection, image_url fetch/thumbnail).
package imagebackend

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/image/draw"

	"github.com/cmsj/dreambot-go/internal/ambient"
	"github.com/cmsj/dreambot-go/internal/envelope"
	"github.com/cmsj/dreambot-go/internal/promptargs"
	"github.com/cmsj/dreambot-go/internal/worker"
)

// reconnectBackoff is the fixed retry cadence on push-channel connection
// loss, the same cadence internal/irc uses for its reconnect loop (§5).
const reconnectBackoff = 5 * time.Second

func timerC(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// maxImageFetchBytes bounds how much of an image_url we'll read into memory
// before re-encoding (§4.6 point 3: "bounded size").
const maxImageFetchBytes = 20 << 20

// thumbnailMax is the maximum width/height the fetched image is resized to
// before it's attached to the pipeline payload.
const thumbnailMax = 512

// ModelConfig is one configured pipeline model, keyed by name in
// Config.Models: the opaque payload template merged with the user's prompt
// before POSTing.
type ModelConfig struct {
	Payload map[string]interface{}
}

// Config is the C7 backend's service connection configuration.
type Config struct {
	APIBase      string // e.g. "http://host:port/api/v1"
	PushURL      string // websocket URL for the push channel
	Models       map[string]ModelConfig
	DefaultModel string
}

// pushClient is the subset of a websocket connection the backend needs;
// a seam so the pump/notification logic is unit-testable without a live
// socket (mirrors internal/bus's conn/consumer seam).
type pushClient interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// pushEvent is one message read off the push channel. The exact wire shape
// is service-specific; fields not understood are simply left zero.
type pushEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	ImageName string `json:"image_name"`
	Error     string `json:"error"`
}

// Backend is the C7 image-generation backend worker.
type Backend struct {
	worker.Base

	cfg Config

	mu          sync.Mutex
	push        pushClient
	connected   bool
	correlation map[string]*envelope.Envelope // session id -> captured envelope

	dial func(ctx context.Context) (pushClient, error)
}

// New creates an image backend. dial is injectable so tests can supply a
// fake push channel; pass nil to use the real websocket dialer.
func New(cfg Config, dial func(ctx context.Context) (pushClient, error)) *Backend {
	b := &Backend{cfg: cfg, correlation: map[string]*envelope.Envelope{}}
	if dial != nil {
		b.dial = dial
	} else {
		b.dial = b.dialWebsocket
	}
	return b
}

// Boot implements worker.Worker: it connects to the push channel and reads
// completion/error notifications until ctx is cancelled, reconnecting on
// loss.
func (b *Backend) Boot(ctx context.Context) error {
	for ctx.Err() == nil {
		push, err := b.dial(ctx)
		if err != nil {
			slog.Warn("imagebackend", "error", err, "msg", "failed to connect to push channel, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-timerC(reconnectBackoff):
			}
			continue
		}
		b.mu.Lock()
		b.push = push
		b.connected = true
		b.mu.Unlock()
		b.SetBooted(true)
		b.readLoop(ctx, push)
		b.mu.Lock()
		b.connected = false
		b.push = nil
		b.mu.Unlock()
	}
	return nil
}

// Shutdown implements worker.Worker.
func (b *Backend) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.push == nil {
		return nil
	}
	return b.push.Close()
}

func (b *Backend) readLoop(ctx context.Context, push pushClient) {
	for ctx.Err() == nil {
		var ev pushEvent
		if err := push.ReadJSON(&ev); err != nil {
			slog.Warn("imagebackend", "error", err, "msg", "push channel read failed, reconnecting")
			return
		}
		switch ev.Type {
		case "invocation_complete":
			b.onInvocationComplete(ctx, ev)
		case "invocation_error":
			b.onInvocationError(ctx, ev)
		}
	}
}

// arg flags shared by every prompt (§4.6 point 1, grounded on a1111.py's
// arg_parser).
type args struct {
	model      string
	imageURL   string
	listModels bool
}

func parseArgs(prompt string) (args, string, error) {
	a := args{}
	p := promptargs.New("image")
	p.FlagSet().StringVar(&a.model, "model", "", "Model to use")
	p.FlagSet().StringVar(&a.imageURL, "imgurl", "", "Start with an image from URL")
	p.FlagSet().BoolVar(&a.listModels, "list-models", false, "List available models")
	remainder, err := p.Parse(prompt)
	return a, remainder, err
}

// Receive implements worker.Worker: the synchronous half of §4.6's
// algorithm. The asynchronous completion is delivered later by
// onInvocationComplete/onInvocationError.
func (b *Backend) Receive(ctx context.Context, subject string, e *envelope.Envelope) bool {
	a, remainder, err := parseArgs(e.Prompt)
	if err != nil {
		return b.replyError(ctx, e, err)
	}
	if a.listModels {
		names := make([]string, 0, len(b.cfg.Models))
		for name := range b.cfg.Models {
			names = append(names, name)
		}
		reply := *e
		reply.Reply = envelope.Reply{Kind: envelope.ReplyText, Text: "Available models: " + strings.Join(names, ", ")}
		return b.sendAck(ctx, &reply)
	}

	modelName := a.model
	if modelName == "" {
		if strings.HasPrefix(e.Trigger, "!") && b.modelExists(e.Trigger[1:]) {
			modelName = e.Trigger[1:]
		} else {
			modelName = b.cfg.DefaultModel
		}
	}
	model, ok := b.cfg.Models[modelName]
	if !ok {
		return b.replyError(ctx, e, fmt.Errorf("unknown model %q", modelName))
	}

	b.mu.Lock()
	connected := b.connected
	b.mu.Unlock()
	if !connected {
		reply := *e
		reply.Reply = envelope.Reply{Kind: envelope.ReplyError, Error: "Not connected to the image service, I'll try again later"}
		b.sendAck(ctx, &reply)
		return false
	}

	imageURL := a.imageURL
	if e.ImageURL != "" {
		imageURL = e.ImageURL
	}
	payload := map[string]interface{}{}
	for k, v := range model.Payload {
		payload[k] = v
	}
	payload["prompt"] = remainder
	if imageURL != "" {
		thumb, err := fetchAndThumbnail(ctx, imageURL)
		if err != nil {
			return b.replyError(ctx, e, err)
		}
		payload["init_images"] = []string{thumb}
	}

	var session struct {
		ID string `json:"id"`
	}
	if err := ambient.JSONPost(ctx, b.cfg.APIBase+"/sessions", payload, &session); err != nil {
		return b.replyError(ctx, e, fmt.Errorf("error from image service: %w", err))
	}

	captured := *e
	b.mu.Lock()
	b.correlation[session.ID] = &captured
	push := b.push
	b.mu.Unlock()
	if push != nil {
		if err := push.WriteJSON(map[string]string{"action": "subscribe", "session": session.ID}); err != nil {
			slog.Error("imagebackend", "error", err, "msg", "failed to subscribe to session push channel")
		}
	}

	resp, err := ambient.JSONPut(ctx, fmt.Sprintf("%s/sessions/%s/invoke", b.cfg.APIBase, session.ID), struct{}{})
	if err != nil || resp.StatusCode >= 300 {
		b.mu.Lock()
		delete(b.correlation, session.ID)
		b.mu.Unlock()
		return b.replyError(ctx, e, fmt.Errorf("error invoking image service session"))
	}
	_ = resp.Body.Close()

	pending := *e
	pending.Reply = envelope.Reply{Kind: envelope.ReplyPending, Text: "Waiting for the image service to generate a response..."}
	return b.sendAck(ctx, &pending)
}

func (b *Backend) modelExists(name string) bool {
	_, ok := b.cfg.Models[name]
	return ok
}

// onInvocationComplete implements §4.6 point 7's success path.
func (b *Backend) onInvocationComplete(ctx context.Context, ev pushEvent) {
	b.mu.Lock()
	e, ok := b.correlation[ev.SessionID]
	if ok {
		delete(b.correlation, ev.SessionID)
	}
	push := b.push
	b.mu.Unlock()
	if !ok {
		slog.Warn("imagebackend", "session", ev.SessionID, "msg", "completion for unknown session")
		return
	}
	if push != nil {
		_ = push.WriteJSON(map[string]string{"action": "unsubscribe", "session": ev.SessionID})
	}
	var img []byte
	var err error
	if img, err = ambient.FetchBytes(ctx, fmt.Sprintf("%s/images/results/%s", b.cfg.APIBase, ev.ImageName)); err != nil {
		b.replyError(ctx, e, fmt.Errorf("error fetching image from image service: %w", err))
		return
	}
	reply := *e
	reply.Reply = envelope.Reply{Kind: envelope.ReplyImage, Image: img}
	b.sendAck(ctx, &reply)
}

// onInvocationError implements §4.6 point 7's error path.
func (b *Backend) onInvocationError(ctx context.Context, ev pushEvent) {
	b.mu.Lock()
	e, ok := b.correlation[ev.SessionID]
	if ok {
		delete(b.correlation, ev.SessionID)
	}
	push := b.push
	b.mu.Unlock()
	if !ok {
		return
	}
	if push != nil {
		_ = push.WriteJSON(map[string]string{"action": "unsubscribe", "session": ev.SessionID})
	}
	b.replyError(ctx, e, fmt.Errorf("image service reported an invocation error: %s", ev.Error))
}

func (b *Backend) replyError(ctx context.Context, e *envelope.Envelope, err error) bool {
	reply := *e
	if ue, ok := err.(*promptargs.UsageError); ok {
		reply.Reply = envelope.Reply{Kind: envelope.ReplyUsage, Usage: ue.Usage}
	} else {
		reply.Reply = envelope.Reply{Kind: envelope.ReplyError, Error: err.Error()}
	}
	return b.sendAck(ctx, &reply)
}

// sendAck clears To so worker.Base.Send's auto-swap routes the reply back
// to the envelope's ReplyTo, then publishes it. It always returns true
// (ack); callers that must signal redelivery return false themselves after
// calling it, per §4.6 point 2.
func (b *Backend) sendAck(ctx context.Context, e *envelope.Envelope) bool {
	out := *e
	out.To = ""
	if err := b.Send(ctx, &out); err != nil {
		slog.Error("imagebackend", "error", err, "msg", "failed to send reply")
	}
	return true
}

// fetchAndThumbnail fetches a bounded-size image, verifies its content
// type, resizes it to at most thumbnailMax on each side and re-encodes it
// as JPEG, returning base64-encoded bytes suitable for a pipeline payload's
// init_images entry (§4.6 point 3).
func fetchAndThumbnail(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image_url: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch image_url: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return "", fmt.Errorf("image_url did not return an image (got %q)", ct)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageFetchBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read image_url body: %w", err)
	}
	if len(body) > maxImageFetchBytes {
		return "", fmt.Errorf("image_url body exceeds %d bytes", maxImageFetchBytes)
	}
	src, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to decode image_url body: %w", err)
	}
	thumb := thumbnail(src, thumbnailMax)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, nil); err != nil {
		return "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return base64Std(buf.Bytes()), nil
}

// thumbnail resizes img so neither side exceeds max, preserving aspect
// ratio; it never upscales.
func thumbnail(img image.Image, max int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= max && h <= max {
		return img
	}
	scale := float64(max) / float64(w)
	if s := float64(max) / float64(h); s < scale {
		scale = s
	}
	nw, nh := int(float64(w)*scale), int(float64(h)*scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func base64Std(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// dialWebsocket is the real push-channel dialer, used unless a fake is
// injected via New for tests.
func (b *Backend) dialWebsocket(ctx context.Context) (pushClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.cfg.PushURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
