// Package hubspot synchronizes analytic events and profile changes into a
// HubSpot-style contact database: it caches the remote mutable-property
// schema per API key, filters and coerces incoming traits against it, and
// enforces the lifecycle-stage ordering rules on contact writes.
package hubspot

import "strings"

type PropertyType string

const (
	TypeString PropertyType = "string"
	TypeNumber PropertyType = "number"
	TypeDate   PropertyType = "date"
	TypeBool   PropertyType = "bool"
	TypeOther  PropertyType = "other"
)

// PropertyDefinition describes one remote contact property. Only mutable
// definitions are retained after a schema fetch.
type PropertyDefinition struct {
	Name    string
	Type    PropertyType
	Mutable bool
}

// Property is the wire form of a single contact property value. All values
// are carried as strings; dates are epoch-millisecond integers in text form.
type Property struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

type ContactProperty struct {
	Value string `json:"value"`
}

// Contact is a remote contact record fetched by email. It is never held past
// a single synchronization operation.
type Contact struct {
	Vid        int64                      `json:"vid"`
	Properties map[string]ContactProperty `json:"properties"`
}

func (c *Contact) property(name string) string {
	if c == nil || c.Properties == nil {
		return ""
	}
	return strings.TrimSpace(c.Properties[name].Value)
}

type Logger interface {
	Printf(format string, args ...any)
}
