package hubspot

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// TrackMessage exposes the typed accessors the event mapper needs. Accessors
// return a zero value rather than an error when the underlying document does
// not carry the field.
type TrackMessage interface {
	Email() string
	Event() string
	Revenue() (float64, bool)
	Traits() map[string]any
}

// IdentifyMessage exposes the typed accessors the profile mapper needs.
type IdentifyMessage interface {
	Email() string
	Traits() map[string]any
	Position() string
	City() string
	Zip() string
	FirstName() string
	LastName() string
	Address() any
	Phone() string
	CreatedAt() (time.Time, bool)
}

// Document wraps an arbitrary decoded JSON object and implements both message
// interfaces on top of it. Trait lookups are case- and separator-insensitive,
// so "firstName", "first_name" and "First Name" all resolve the same field.
type Document map[string]any

func (d Document) Email() string {
	if s := stringValue(d["email"]); s != "" {
		return s
	}
	return stringValue(lookupTrait(d.Traits(), "email"))
}

func (d Document) Event() string {
	return stringValue(d["event"])
}

func (d Document) Revenue() (float64, bool) {
	if props, ok := d["properties"].(map[string]any); ok {
		if v, ok := numberValue(lookupTrait(props, "revenue")); ok {
			return v, true
		}
	}
	return numberValue(d["revenue"])
}

func (d Document) Traits() map[string]any {
	if t, ok := d["traits"].(map[string]any); ok {
		return t
	}
	return nil
}

func (d Document) Position() string {
	return stringValue(lookupTrait(d.Traits(), "position", "jobTitle"))
}

func (d Document) City() string {
	if s := stringValue(lookupTrait(d.Traits(), "city")); s != "" {
		return s
	}
	return stringValue(lookupTrait(d.addressBlock(), "city"))
}

func (d Document) Zip() string {
	if s := stringValue(lookupTrait(d.Traits(), "zip", "postalCode")); s != "" {
		return s
	}
	return stringValue(lookupTrait(d.addressBlock(), "zip", "postalCode"))
}

func (d Document) FirstName() string {
	if s := stringValue(lookupTrait(d.Traits(), "firstName")); s != "" {
		return s
	}
	name := strings.Fields(stringValue(lookupTrait(d.Traits(), "name")))
	if len(name) > 0 {
		return name[0]
	}
	return ""
}

func (d Document) LastName() string {
	if s := stringValue(lookupTrait(d.Traits(), "lastName")); s != "" {
		return s
	}
	name := strings.Fields(stringValue(lookupTrait(d.Traits(), "name")))
	if len(name) > 1 {
		return strings.Join(name[1:], " ")
	}
	return ""
}

func (d Document) Address() any {
	return lookupTrait(d.Traits(), "address")
}

func (d Document) Phone() string {
	return stringValue(lookupTrait(d.Traits(), "phone"))
}

func (d Document) CreatedAt() (time.Time, bool) {
	v := lookupTrait(d.Traits(), "createdAt", "created")
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		return parseISOTime(t)
	}
	return time.Time{}, false
}

func (d Document) addressBlock() map[string]any {
	if block, ok := lookupTrait(d.Traits(), "address").(map[string]any); ok {
		return block
	}
	return nil
}

// lookupTrait finds the first of names present in m, ignoring case, spaces
// and underscores in both the candidate names and the map keys.
func lookupTrait(m map[string]any, names ...string) any {
	if len(m) == 0 {
		return nil
	}
	for _, name := range names {
		want := foldTraitKey(name)
		for key, value := range m {
			if foldTraitKey(key) == want {
				return value
			}
		}
	}
	return nil
}

func foldTraitKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, "_", "")
	key = strings.ReplaceAll(key, " ", "")
	return key
}

func stringValue(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
