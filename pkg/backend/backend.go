// Package backend picks the crop executor for a file extension from an ordered
// rule list such as "png:composition-pipeline;*:external-tool".
package backend

import (
	"strings"
)

// Name identifies one of the crop executors
type Name string

const (
	// ExternalTool runs a command-line raster tool (ImageMagick/GraphicsMagick)
	ExternalTool Name = "external-tool"
	// CompositionPipeline renders a declarative place-then-crop recipe
	CompositionPipeline Name = "composition-pipeline"
	// CanvasCopy copies the window into a fresh in-memory buffer
	CanvasCopy Name = "canvas-copy"
)

// Default is used when no rule matches
const Default = ExternalTool

// DefaultRules is the rule list used when none is configured
const DefaultRules = "png:composition-pipeline;*:external-tool"

// Wildcard matches every extension
const Wildcard = "*"

// Names returns all executor names
func Names() []Name {
	return []Name{ExternalTool, CompositionPipeline, CanvasCopy}
}

// legacy strategy names accepted in rule lists
var aliases = map[string]Name{
	"ImageMagick":        ExternalTool,
	"GifBuilder":         CompositionPipeline,
	"GraphicalFunctions": CanvasCopy,
}

// Lookup resolves an executor name or one of its legacy aliases
func Lookup(s string) (Name, bool) {
	s = strings.TrimSpace(s)
	for _, n := range Names() {
		if string(n) == s {
			return n, true
		}
	}
	n, ok := aliases[s]
	return n, ok
}

// Rule maps a set of lower-case extensions (or the wildcard) to an executor
type Rule struct {
	Extensions []string
	Executor   Name
}

// Matches reports whether ext (already lower case) is covered by the rule
func (r Rule) Matches(ext string) bool {
	for _, e := range r.Extensions {
		if e == ext || e == Wildcard {
			return true
		}
	}
	return false
}

// ParseRules parses "ext,ext:name;ext:name;...". Entries that are malformed or
// name an unknown executor are dropped, so bad configuration degrades to the
// remaining rules and finally to Default. The second return value lists the
// dropped entries.
func ParseRules(s string) ([]Rule, []string) {
	var rules []Rule
	var skipped []string

	for _, part := range splitTrim(s, ";") {
		fields := splitTrim(part, ":")
		if len(fields) != 2 {
			skipped = append(skipped, part)
			continue
		}
		name, ok := Lookup(fields[1])
		if !ok {
			skipped = append(skipped, part)
			continue
		}
		exts := splitTrim(fields[0], ",")
		if len(exts) == 0 {
			skipped = append(skipped, part)
			continue
		}
		for i := range exts {
			exts[i] = normalize(exts[i])
		}
		rules = append(rules, Rule{Extensions: exts, Executor: name})
	}

	return rules, skipped
}

// Selector evaluates rules top to bottom, first match wins
type Selector struct {
	rules []Rule
}

// NewSelector creates a selector over already parsed rules
func NewSelector(rules []Rule) *Selector {
	return &Selector{rules: rules}
}

// ParseSelector creates a selector from a rule string. Invalid entries are skipped.
func ParseSelector(s string) *Selector {
	rules, _ := ParseRules(s)
	return NewSelector(rules)
}

// Rules returns a copy of the rule list
func (s *Selector) Rules() []Rule {
	return append([]Rule(nil), s.rules...)
}

// Select returns the executor for the extension (with or without the leading dot)
func (s *Selector) Select(ext string) Name {
	ext = normalize(ext)
	for _, r := range s.rules {
		if r.Matches(ext) {
			return r.Executor
		}
	}
	return Default
}

func normalize(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// splitTrim splits s and drops empty, whitespace-only parts
func splitTrim(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
