package hubspot

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Settings identifies the remote account a syncer writes into. Both fields
// are required before any engine method runs.
type Settings struct {
	PortalID string
	APIKey   string
}

func (s Settings) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.PortalID, validation.Required),
		validation.Field(&s.APIKey, validation.Required),
	)
}
