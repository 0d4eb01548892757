// Package mailing renders outreach content and prepares it for tracked
// delivery.
package mailing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/osteele/liquid"

	"github.com/ignite/investor-outreach/internal/pkg/logger"
)

// placeholderPattern matches {{ key }} with any whitespace around the key.
// Keys may contain anything but braces.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// identPattern matches a key Liquid resolves as a plain variable lookup.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// liquidKeywords are names Liquid evaluates as literals, not variables.
var liquidKeywords = map[string]bool{
	"true": true, "false": true, "nil": true, "null": true, "empty": true, "blank": true,
}

// Vars is the interpolation context. A key that is absent renders as "".
type Vars map[string]string

// Renderer interpolates {{ key }} placeholders using the Liquid engine.
// Liquid filters and tags are available to template authors. Text the Liquid
// parser rejects, or any placeholder Liquid would not treat as a plain key
// lookup (keywords, property access such as name.size), falls back to plain
// substitution, so a key absent from vars always renders as "".
type Renderer struct {
	engine *liquid.Engine
}

// NewRenderer creates a renderer with the outreach filters registered.
func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	// {{ first_name | default: "there" }}
	engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})
	engine.RegisterFilter("capitalize", func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + s[1:]
	})

	return &Renderer{engine: engine}
}

// Interpolate replaces every placeholder in text with its value from vars.
func (r *Renderer) Interpolate(text string, vars Vars) string {
	if !strings.Contains(text, "{") {
		return text
	}
	if !plainLookups(text, vars) {
		return substitute(text, vars)
	}
	out, err := r.engine.ParseAndRenderString(text, liquidBindings(vars))
	if err != nil {
		logger.Debug("liquid render failed, using plain substitution", "error", err.Error())
		return substitute(text, vars)
	}
	return out
}

// ExtractVariables returns the distinct placeholder keys in text, in order
// of first occurrence.
func (r *Renderer) ExtractVariables(text string) []string {
	return ExtractVariables(text)
}

// ExtractVariables is the engine-independent form of Renderer.ExtractVariables.
func ExtractVariables(text string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	keys := make([]string, 0, len(matches))
	for _, m := range matches {
		key := stripFilters(m[1])
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}

// plainLookups reports whether Liquid resolves every placeholder in text the
// same way a map lookup in vars would. Dotted keys must be present verbatim.
func plainLookups(text string, vars Vars) bool {
	for _, key := range ExtractVariables(text) {
		if liquidKeywords[key] || !identPattern.MatchString(key) {
			return false
		}
		if strings.Contains(key, ".") {
			if _, ok := vars[key]; !ok || shadowed(key, vars) {
				return false
			}
		}
	}
	return true
}

// shadowed reports whether a flat key in vars is a prefix of the dotted key,
// which Liquid would resolve as a property of that string instead.
func shadowed(key string, vars Vars) bool {
	parts := strings.Split(key, ".")
	for n := 1; n < len(parts); n++ {
		if _, ok := vars[strings.Join(parts[:n], ".")]; ok {
			return true
		}
	}
	return false
}

// substitute is the plain {{ key }} replacement used when Liquid cannot parse
// the text.
func substitute(text string, vars Vars) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		key := stripFilters(placeholderPattern.FindStringSubmatch(match)[1])
		return vars[key]
	})
}

func stripFilters(expr string) string {
	if i := strings.Index(expr, "|"); i >= 0 {
		expr = expr[:i]
	}
	return strings.TrimSpace(expr)
}

// liquidBindings converts flat dotted keys ("investor.firm") into the nested
// maps Liquid resolves property access against. A flat key always wins over
// a nested one of the same name.
func liquidBindings(vars Vars) liquid.Bindings {
	b := make(liquid.Bindings, len(vars))
	for k, v := range vars {
		if !strings.Contains(k, ".") {
			b[k] = v
		}
	}
	for k, v := range vars {
		parts := strings.Split(k, ".")
		if len(parts) < 2 {
			continue
		}
		node := map[string]interface{}(b)
		for i, p := range parts {
			if i == len(parts)-1 {
				if _, exists := node[p]; !exists {
					node[p] = v
				}
				break
			}
			child, ok := node[p].(map[string]interface{})
			if !ok {
				if _, taken := node[p]; taken {
					break
				}
				child = make(map[string]interface{})
				node[p] = child
			}
			node = child
		}
	}
	return b
}
