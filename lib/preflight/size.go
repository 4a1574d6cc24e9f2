// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package preflight

import (
	"fmt"
	"strconv"
	"strings"
)

// sizeUnits maps catalog size suffixes to their base-1024 multiplier.
// The catalog format reads "1GB" as 1 GiB (1<<30); this is a catalog
// convention, not SI. Both the bare and the explicit "iB" suffixes are
// accepted and mean the same thing.
var sizeUnits = map[string]uint64{
	"B":   1,
	"KB":  1 << 10,
	"KIB": 1 << 10,
	"MB":  1 << 20,
	"MIB": 1 << 20,
	"GB":  1 << 30,
	"GIB": 1 << 30,
	"TB":  1 << 40,
	"TIB": 1 << 40,
}

// ParseSize parses a human-readable size token ("1GB", "500MB",
// "1.5GiB") into bytes, base-1024. A bare number is bytes.
func ParseSize(token string) (uint64, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return 0, fmt.Errorf("empty size token")
	}

	split := len(trimmed)
	for split > 0 {
		c := trimmed[split-1]
		if c >= '0' && c <= '9' || c == '.' {
			break
		}
		split--
	}
	number := strings.TrimSpace(trimmed[:split])
	unit := strings.ToUpper(strings.TrimSpace(trimmed[split:]))

	if number == "" {
		return 0, fmt.Errorf("size token %q has no numeric part", token)
	}

	multiplier := uint64(1)
	if unit != "" {
		m, ok := sizeUnits[unit]
		if !ok {
			return 0, fmt.Errorf("size token %q has unknown unit %q", token, unit)
		}
		multiplier = m
	}

	value, err := strconv.ParseFloat(number, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("size token %q has invalid number %q", token, number)
	}

	return uint64(value * float64(multiplier)), nil
}
