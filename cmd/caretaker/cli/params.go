// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"strings"
)

// ParsePairs parses repeated "key=value" arguments into a map.
// Duplicate keys are an error so a typo never silently wins.
func ParsePairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: want key=value", pair)
		}
		if _, exists := out[key]; exists {
			return nil, fmt.Errorf("duplicate parameter %q", key)
		}
		out[key] = value
	}
	return out, nil
}
