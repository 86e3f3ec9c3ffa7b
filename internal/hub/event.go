package hub

import (
	"encoding/json"
	"strconv"
)

// OpportunityEvent is one decoded "lead available" broadcast. Raw carries the
// untouched payload for handlers that want more than the id.
type OpportunityEvent struct {
	OpportunityID string
	Raw           json.RawMessage
}

// The hub has been observed to broadcast the opportunity identifier under a
// few different field names depending on the publishing service.
var opportunityIDFields = []string{"opportunityId", "id", "opportunityID"}

// extractOpportunityID returns the opportunity id from the payload, or ""
// when no known field carries one. Both string and numeric ids are accepted.
func extractOpportunityID(payload json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return ""
	}

	for _, name := range opportunityIDFields {
		raw, ok := fields[name]
		if !ok {
			continue
		}

		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil && n.String() != "" {
			if _, err := strconv.ParseFloat(n.String(), 64); err == nil {
				return n.String()
			}
		}
	}
	return ""
}
