// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package promptargs

import (
	"errors"
	"testing"
)

func TestParseRemainder(t *testing.T) {
	p := New("test")
	model := p.FlagSet().String("model", "", "model to use")
	remainder, err := p.Parse("--model foo a cat on the moon")
	if err != nil {
		t.Fatal(err)
	}
	if *model != "foo" {
		t.Fatalf("got model=%q", *model)
	}
	if remainder != "a cat on the moon" {
		t.Fatalf("got remainder=%q", remainder)
	}
}

func TestParseHelpIsUsageNotArgError(t *testing.T) {
	p := New("test")
	p.FlagSet().String("model", "", "model to use")
	_, err := p.Parse("--help")
	var usage *UsageError
	if !errors.As(err, &usage) {
		t.Fatalf("expected *UsageError, got %T: %v", err, err)
	}
}

func TestParseBadFlagIsArgError(t *testing.T) {
	p := New("test")
	_, err := p.Parse("--nosuchflag value")
	var argErr *ArgError
	if !errors.As(err, &argErr) {
		t.Fatalf("expected *ArgError, got %T: %v", err, err)
	}
}

func TestParseNeverPanicsOrExits(t *testing.T) {
	// Regression guard: promptargs must never call os.Exit. There is no
	// direct way to assert that from within the same process other than
	// exercising every failure path and observing the test process is
	// still alive to report it.
	p := New("test")
	for _, line := range []string{"", "--help", "--bogus", `"unterminated`} {
		if _, err := p.Parse(line); err == nil && line != "" {
			continue
		}
	}
}

func TestQuotedRemainder(t *testing.T) {
	p := New("test")
	remainder, err := p.Parse(`"a cat, sitting"`)
	if err != nil {
		t.Fatal(err)
	}
	if remainder != "a cat, sitting" {
		t.Fatalf("got %q", remainder)
	}
}
