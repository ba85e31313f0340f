package hubspot

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// FormatTraits rewrites every key to the remote key form: lowercase, with
// whitespace runs collapsed to a single underscore. "Full Name" and
// "full name" both become "full_name"; later duplicates win.
func FormatTraits(traits map[string]any) map[string]any {
	out := make(map[string]any, len(traits))
	for key, value := range traits {
		out[formatTraitKey(key)] = value
	}
	return out
}

func formatTraitKey(key string) string {
	return whitespaceRun.ReplaceAllString(strings.ToLower(key), "_")
}

// Normalize converts a raw trait map into the property list the remote API
// accepts. Only traits matching a definition are emitted; unknown keys are
// dropped. Partial matches are expected, not an error.
func Normalize(traits map[string]any, definitions []PropertyDefinition) []Property {
	if len(traits) == 0 {
		return nil
	}
	formatted := FormatTraits(traits)
	properties := make([]Property, 0, len(formatted))
	for _, definition := range definitions {
		value, ok := formatted[definition.Name]
		if !ok {
			continue
		}
		properties = append(properties, Property{
			Property: definition.Name,
			Value:    coerceValue(value, definition.Type),
		})
	}
	return properties
}

// coerceValue renders one trait value in the remote wire form, dispatching on
// the pair (value kind, definition type). Dates become epoch milliseconds,
// floored to the UTC day start when the definition is date-typed.
func coerceValue(value any, definitionType PropertyType) string {
	if s, ok := value.(string); ok {
		if t, isDate := parseISOTime(s); isDate {
			value = t
		}
	}
	if t, ok := value.(time.Time); ok {
		if definitionType == TypeDate {
			t = floorUTCDay(t)
		}
		return strconv.FormatInt(t.UTC().UnixMilli(), 10)
	}
	switch v := value.(type) {
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// parseISOTime recognizes ISO-8601 timestamps (a date alone does not count).
func parseISOTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "T") {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

func floorUTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
