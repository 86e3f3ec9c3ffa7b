package hub

import (
	"encoding/json"
	"testing"
)

func TestExtractOpportunityID(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    string
	}{
		{"canonical field", `{"opportunityId":"opp-1"}`, "opp-1"},
		{"short field", `{"id":"opp-2"}`, "opp-2"},
		{"upper variant", `{"opportunityID":"opp-3"}`, "opp-3"},
		{"numeric id", `{"id":12345}`, "12345"},
		{"canonical wins over short", `{"opportunityId":"opp-4","id":"other"}`, "opp-4"},
		{"no known field", `{"leadId":"opp-5"}`, ""},
		{"empty id", `{"opportunityId":""}`, ""},
		{"not an object", `[1,2,3]`, ""},
		{"garbage", `{{{`, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractOpportunityID(json.RawMessage(tc.payload)); got != tc.want {
				t.Errorf("extractOpportunityID(%s) = %q, want %q", tc.payload, got, tc.want)
			}
		})
	}
}
