package hubspot

import "strings"

// LifecycleStageProperty is the contact field the remote API advances
// monotonically: writes that would move a contact to an earlier stage are
// silently ignored unless the field is cleared first.
const LifecycleStageProperty = "lifecyclestage"

var lifecycleRanks = map[string]int{
	"subscriber":             1,
	"lead":                   2,
	"marketingqualifiedlead": 3,
	"salesqualifiedlead":     4,
	"opportunity":            5,
	"customer":               6,
}

// StageRank returns the funnel rank of a lifecycle stage token. Unrecognized
// tokens report false; the engine does not pre-validate them further and
// leaves rejection to the remote side.
func StageRank(token string) (int, bool) {
	rank, ok := lifecycleRanks[strings.ToLower(strings.TrimSpace(token))]
	return rank, ok
}

// WriteStep is one contact write in an ordered plan. Steps execute strictly
// in order, stopping at the first failure.
type WriteStep struct {
	Create     bool
	Properties []Property
}

// PlanWrites decides how to apply a property set carrying incomingStage to a
// contact that may already exist:
//
//   - no existing contact: a single create with the full set
//   - existing stage absent, unrecognized, or not ahead of the incoming
//     stage: a single direct update
//   - existing stage ahead of the incoming stage: clear the lifecycle field
//     first, then write the full set, so the backward transition is never
//     silently dropped
func PlanWrites(incomingStage string, existing *Contact, properties []Property) []WriteStep {
	if existing == nil {
		return []WriteStep{{Create: true, Properties: properties}}
	}
	incomingRank, incomingKnown := StageRank(incomingStage)
	existingRank, existingKnown := StageRank(existing.property(LifecycleStageProperty))
	if !incomingKnown || !existingKnown || incomingRank >= existingRank {
		return []WriteStep{{Properties: properties}}
	}
	return []WriteStep{
		{Properties: []Property{{Property: LifecycleStageProperty, Value: ""}}},
		{Properties: properties},
	}
}

func lifecycleStageOf(properties []Property) (string, bool) {
	for _, property := range properties {
		if property.Property != LifecycleStageProperty {
			continue
		}
		if _, ok := StageRank(property.Value); ok {
			return property.Value, true
		}
		return property.Value, false
	}
	return "", false
}
