// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// capabilityEntry is the on-disk shape of one catalog entry.
type capabilityEntry struct {
	ID            string         `json:"id"`
	Command       string         `json:"command"`
	Args          []string       `json:"args"`
	TrustTier     string         `json:"trust_tier"`
	Preconditions []Precondition `json:"preconditions"`
}

// document is the on-disk shape of the whole catalog file.
type document struct {
	Capabilities []capabilityEntry `json:"capabilities"`
}

// Catalog is the loaded, immutable capability table.
type Catalog struct {
	byID  map[string]*Capability
	order []string
}

// Parse strips JSONC comments and trailing commas from data, then
// loads the capability entries. Entries that violate the schema are
// skipped with a warning on logger; the rest of the catalog loads. A
// malformed top-level document is an error.
func Parse(data []byte, logger *slog.Logger) (*Catalog, error) {
	stripped := jsonc.ToJSON(data)

	var doc document
	if err := json.Unmarshal(stripped, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	cat := &Catalog{byID: make(map[string]*Capability, len(doc.Capabilities))}
	for index, entry := range doc.Capabilities {
		capability, err := buildCapability(entry)
		if err != nil {
			logger.Warn("skipping invalid catalog entry",
				"index", index,
				"id", entry.ID,
				"error", err,
			)
			continue
		}
		if _, exists := cat.byID[capability.ID]; exists {
			logger.Warn("skipping duplicate catalog entry", "id", capability.ID)
			continue
		}
		cat.byID[capability.ID] = capability
		cat.order = append(cat.order, capability.ID)
	}
	return cat, nil
}

// Load reads and parses the JSONC catalog file at path.
func Load(path string, logger *slog.Logger) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	cat, err := Parse(data, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// buildCapability validates one entry and constructs the immutable
// descriptor. Any validation failure rejects the whole entry.
func buildCapability(entry capabilityEntry) (*Capability, error) {
	if entry.ID == "" {
		return nil, fmt.Errorf("missing id")
	}
	if entry.Command == "" {
		return nil, fmt.Errorf("missing command")
	}
	if !filepath.IsAbs(entry.Command) {
		return nil, fmt.Errorf("command %q is not an absolute path", entry.Command)
	}
	if strings.ContainsAny(entry.Command, " \t\n") {
		return nil, fmt.Errorf("command %q contains whitespace", entry.Command)
	}

	tier, err := ParseTrustTier(entry.TrustTier)
	if err != nil {
		return nil, err
	}

	args := make([]Argument, 0, len(entry.Args))
	for _, token := range entry.Args {
		arg, err := parseArgument(token)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	for _, precondition := range entry.Preconditions {
		if err := precondition.validate(); err != nil {
			return nil, err
		}
	}

	return &Capability{
		ID:            entry.ID,
		Command:       Command{Path: entry.Command, Args: args},
		Tier:          tier,
		Preconditions: entry.Preconditions,
	}, nil
}

// Get returns the capability with the given id, or nil.
func (c *Catalog) Get(id string) *Capability {
	return c.byID[id]
}

// All returns the capabilities in file order.
func (c *Catalog) All() []*Capability {
	out := make([]*Capability, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Len returns the number of loaded capabilities.
func (c *Catalog) Len() int { return len(c.order) }

// Validate returns advisory problems that per-entry schema validation
// does not reject: conditions that load fine but deserve operator
// attention. An empty slice means the catalog is clean.
func (c *Catalog) Validate() []string {
	var problems []string
	for _, capability := range c.All() {
		if capability.Tier == TierElevated && len(capability.Params()) > 0 {
			problems = append(problems, fmt.Sprintf(
				"%s: elevated capability takes parameters %v; caller input reaches a root-executed argv",
				capability.ID, capability.Params()))
		}
		for _, precondition := range capability.Preconditions {
			if precondition.Path != "" && !filepath.IsAbs(precondition.Path) {
				problems = append(problems, fmt.Sprintf(
					"%s: precondition path %q is not absolute",
					capability.ID, precondition.Path))
			}
		}
	}
	return problems
}
