// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ambient contains the shared, non-domain-specific plumbing: logging
// setup, small HTTP/JSON helpers and process identity. The cmd/ launchers
// use it through internal/climain, and the image backend uses its HTTP
// helpers.
package ambient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"regexp"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// FindFreePort returns an available TCP port to listen to, first trying
// preferred.
func FindFreePort(preferred ...int) int {
	for _, p := range preferred {
		l, err := net.Listen("tcp", "localhost:"+strconv.Itoa(p))
		if err != nil {
			continue
		}
		defer l.Close()
		return l.Addr().(*net.TCPAddr).Port
	}
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		panic(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// IsHostPort returns true if the string seems like a valid "host:port" string.
func IsHostPort(s string) bool {
	ipv4 := `\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`
	ipv6 := `\[[a-fA-F0-9:]+\]`
	hostname := `[a-zA-Z0-9\-\.]{2,}`
	r := `^(?:` + ipv4 + `|` + ipv6 + `|` + hostname + `):\d{1,5}$`
	ok, err := regexp.MatchString(r, s)
	if err != nil {
		panic(err)
	}
	return ok
}

// JSONPost simplifies doing an HTTP POST in JSON.
func JSONPost(ctx context.Context, url string, in, out interface{}) error {
	resp, err := JSONPostRequest(ctx, url, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var errs []error
	if b, err := io.ReadAll(resp.Body); err != nil {
		errs = append(errs, fmt.Errorf("failed to read server response: %w", err))
	} else if out != nil {
		d := json.NewDecoder(bytes.NewReader(b))
		d.DisallowUnknownFields()
		if err = d.Decode(out); err != nil {
			slog.Error("ambient", "url", url, "resp", string(b))
			errs = append(errs, fmt.Errorf("failed to decode server response: %w", err))
		}
	}
	if resp.StatusCode >= 400 {
		errs = append(errs, &HTTPError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status})
	}
	return errors.Join(errs...)
}

// JSONPostRequest simplifies doing an HTTP POST in JSON. It initiates the
// request and returns the response back for the caller to process (e.g.
// streaming responses).
func JSONPostRequest(ctx context.Context, url string, in interface{}) (*http.Response, error) {
	b := bytes.Buffer{}
	e := json.NewEncoder(&b)
	e.SetEscapeHTML(false)
	if err := e.Encode(in); err != nil {
		return nil, fmt.Errorf("ambient: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return http.DefaultClient.Do(req)
}

// JSONPut is the PUT equivalent of JSONPostRequest, used by the image
// backend's invoke step.
func JSONPut(ctx context.Context, url string, in interface{}) (*http.Response, error) {
	b := bytes.Buffer{}
	e := json.NewEncoder(&b)
	e.SetEscapeHTML(false)
	if err := e.Encode(in); err != nil {
		return nil, fmt.Errorf("ambient: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "PUT", url, &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return http.DefaultClient.Do(req)
}

// JSONGet does an HTTP GET and parses the returned JSON.
func JSONGet(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	d := json.NewDecoder(resp.Body)
	d.DisallowUnknownFields()
	err = d.Decode(out)
	_ = resp.Body.Close()
	var errs []error
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to decode server response: %w", err))
	}
	if resp.StatusCode >= 400 {
		errs = append(errs, &HTTPError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status})
	}
	return errors.Join(errs...)
}

// FetchBytes does an HTTP GET and returns the raw response body, used by
// the image backend to retrieve a generated image by URL.
func FetchBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &HTTPError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return io.ReadAll(resp.Body)
}

// HTTPError represents an HTTP request that returned an HTTP error.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
}

func (h *HTTPError) Error() string {
	return h.Status
}

// Level is the single process-wide log level, toggled between INFO and
// DEBUG by SIGHUP (see internal/climain's signal handling).
var Level slog.LevelVar

// InitLog wires slog to a tint handler, coloring output when attached to a
// terminal.
func InitLog(programLevel *slog.LevelVar) {
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      programLevel,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch t := a.Value.Any().(type) {
			case string:
				if t == "" {
					return slog.Attr{}
				}
			case bool:
				if !t {
					return slog.Attr{}
				}
			case uint64:
				if t == 0 {
					return slog.Attr{}
				}
			case int64:
				if t == 0 {
					return slog.Attr{}
				}
			case float64:
				if t == 0 {
					return slog.Attr{}
				}
			case time.Time:
				if t.IsZero() {
					return slog.Attr{}
				}
			case time.Duration:
				if t == 0 {
					return slog.Attr{}
				}
			}
			return a
		},
	}))
	slog.SetDefault(logger)
}

// ToggleDebug flips the shared level between INFO and DEBUG, the Go
// equivalent of the original CLI's SIGHUP handler which walked every logger
// in the process; slog has one handler per process here, so flipping the
// single shared LevelVar has the same effect.
func ToggleDebug() {
	if Level.Level() == slog.LevelDebug {
		Level.Set(slog.LevelInfo)
	} else {
		Level.Set(slog.LevelDebug)
	}
}

// Commit returns the VCS revision this binary was built from, with a
// "-tainted" suffix if the working tree had local modifications.
func Commit() string {
	rev := ""
	suffix := ""
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				rev = s.Value
			} else if s.Key == "vcs.modified" && s.Value == "true" {
				suffix = "-tainted"
			}
		}
	}
	return rev + suffix
}
