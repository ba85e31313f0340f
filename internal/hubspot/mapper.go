package hubspot

import (
	"net/url"
	"strconv"
)

// MapTrack builds the outbound event payload. The remote events endpoint
// takes everything as query parameters.
func MapTrack(msg TrackMessage, settings Settings) url.Values {
	params := url.Values{}
	params.Set("_a", settings.PortalID)
	params.Set("email", msg.Email())
	params.Set("_n", msg.Event())
	if revenue, ok := msg.Revenue(); ok {
		params.Set("_m", strconv.FormatFloat(revenue, 'f', -1, 64))
	}
	return params
}

// MapIdentify builds the raw property map for a profile update: the free-form
// traits are the defaults, with the well-known computed fields overlaid on
// top under their remote names. Null-valued keys are stripped.
func MapIdentify(msg IdentifyMessage) map[string]any {
	payload := FormatTraits(msg.Traits())

	computed := map[string]string{
		"jobtitle":  msg.Position(),
		"city":      msg.City(),
		"zip":       msg.Zip(),
		"firstname": msg.FirstName(),
		"lastname":  msg.LastName(),
		"email":     msg.Email(),
		"phone":     msg.Phone(),
	}
	for key, value := range computed {
		if value != "" {
			payload[key] = value
		}
	}
	if address := msg.Address(); !emptyValue(address) {
		payload["address"] = address
	}

	// jobtitle is derived from the raw position field; drop the leftover.
	delete(payload, "position")

	if created, ok := msg.CreatedAt(); ok {
		payload["createdate"] = created.UTC().UnixMilli()
	}

	for key, value := range payload {
		if value == nil {
			delete(payload, key)
		}
	}
	return payload
}

func emptyValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}
