// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package irc

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxFilenameLen is a conservative filesystem filename length budget; the
// suffix (e.g. ".png") is subtracted from it before truncation.
const maxFilenameLen = 200

var (
	disallowed   = regexp.MustCompile(`[^A-Za-z0-9_.() ]`)
	doubleUnders = regexp.MustCompile(`_{2,}`)
)

// SanitiseFilename turns an arbitrary prompt string into a safe filename
// stem: normalise to NFKD, drop non-ASCII, keep only
// [A-Za-z0-9_.() ], replace spaces with '_', collapse runs of '_', then
// truncate to leave room for suffix and append it.
//
// Idempotent: SanitiseFilename(SanitiseFilename(s), suffix) ==
// SanitiseFilename(s, suffix) (§8 property 7).
func SanitiseFilename(s, suffix string) string {
	decomposed := norm.NFKD.String(s)
	var ascii strings.Builder
	for _, r := range decomposed {
		if r < 128 {
			ascii.WriteRune(r)
		}
	}
	cleaned := disallowed.ReplaceAllString(ascii.String(), "")
	cleaned = strings.ReplaceAll(cleaned, " ", "_")
	cleaned = doubleUnders.ReplaceAllString(cleaned, "_")
	cleaned = strings.Trim(cleaned, "_")
	// Strip a previously-appended suffix so re-sanitising an already
	// sanitised name is a no-op rather than stacking the suffix.
	cleaned = strings.TrimSuffix(cleaned, suffix)
	cleaned = strings.Trim(cleaned, "_")

	limit := maxFilenameLen - len(suffix)
	if limit < 0 {
		limit = 0
	}
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
		// Truncation can expose a '_' that a second pass would trim.
		cleaned = strings.TrimRight(cleaned, "_")
	}
	return cleaned + suffix
}
