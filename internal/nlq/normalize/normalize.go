// Package normalize turns loosely formatted model output into clean Go values.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// an optional language tag directly after the opening fence belongs to the delimiter
	fencePattern   = regexp.MustCompile("```(?:[A-Za-z0-9_+-]*[ \t]*\r?\n)?([\\s\\S]*?)```")
	bracketPattern = regexp.MustCompile(`\[([^\]]+)\]`)

	errEmpty = errors.New("empty model output")
)

// Identifiers coerces any model output into an ordered list of names. Native slices are
// stringified element by element in order; text goes through ParseIdentifiers. Never fails:
// unusable input yields an empty list.
func Identifiers(input interface{}) []string {
	switch v := input.(type) {
	case nil:
		return []string{}
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, stringify(item))
		}
		return out
	case string:
		return valuesOrEmpty(ParseIdentifiers(v))
	case []byte:
		return valuesOrEmpty(ParseIdentifiers(string(v)))
	default:
		return valuesOrEmpty(ParseIdentifiers(fmt.Sprint(v)))
	}
}

// ParseIdentifiers applies, in order, a strict JSON array parse, the first bracketed list and
// a plain comma split to the fence-stripped text. The first rule that yields a result wins
// and duplicates collapse to their first occurrence.
func ParseIdentifiers(raw string) Result[[]string] {
	cleaned := StripFences(raw)
	if cleaned == "" {
		return Unparseable[[]string](raw, errEmpty)
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err == nil {
		if list, ok := parsed.([]interface{}); ok {
			out := make([]string, 0, len(list))
			for _, item := range list {
				out = append(out, stringify(item))
			}
			return Parsed(dedupe(out))
		}
	}

	if m := bracketPattern.FindStringSubmatch(cleaned); m != nil {
		if names := splitNames(m[1]); len(names) > 0 {
			return Parsed(dedupe(names))
		}
	}

	if names := splitNames(cleaned); len(names) > 0 {
		return Parsed(dedupe(names))
	}

	return Unparseable[[]string](raw, fmt.Errorf("no identifiers in %q", cleaned))
}

// StripFences removes Markdown code fences, keeping their content, then any stray backticks.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	s = fencePattern.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, "`", "")
	return strings.TrimSpace(s)
}

// CoerceJSON decodes model text into T. It tries the fence-stripped text, then the first
// fenced block, then the outermost JSON object or array embedded in surrounding prose.
func CoerceJSON[T any](raw string) Result[T] {
	if strings.TrimSpace(raw) == "" {
		return Unparseable[T](raw, errEmpty)
	}

	var firstErr error
	for _, candidate := range jsonCandidates(raw) {
		var v T
		err := json.Unmarshal([]byte(candidate), &v)
		if err == nil {
			return Parsed(v)
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return Unparseable[T](raw, firstErr)
}

func jsonCandidates(raw string) []string {
	candidates := []string{StripFences(raw)}

	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(raw, pair[0])
		end := strings.LastIndex(raw, pair[1])
		if start >= 0 && end > start {
			candidates = append(candidates, raw[start:end+1])
		}
	}
	return candidates
}

func splitNames(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		name := strings.Trim(strings.TrimSpace(p), `"'`)
		name = strings.TrimSpace(name)
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	case float64:
		// JSON numbers decode as float64; print integers without a fraction
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprint(t)
	default:
		if b, err := json.Marshal(t); err == nil {
			return string(b)
		}
		return fmt.Sprint(t)
	}
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func valuesOrEmpty(r Result[[]string]) []string {
	if v, ok := r.Value(); ok {
		return v
	}
	return []string{}
}
