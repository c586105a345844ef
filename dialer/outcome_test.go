package dialer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voxbridge/phone-agent/types"
)

func TestClassifyStatusCodes(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		message string
		want    types.Outcome
	}{
		{"busy", 486, "Busy Here", types.OutcomeBusy},
		{"temporarily unavailable", 480, "Temporarily Unavailable", types.OutcomeNoAnswer},
		{"request timeout", 408, "Request Timeout", types.OutcomeNoAnswer},
		{"not found", 404, "Not Found", types.OutcomeNotFound},
		{"service unavailable", 503, "Service Unavailable", types.OutcomeServiceUnavailable},
		{"unauthorized", 401, "Unauthorized", types.OutcomeAuthFailed},
		{"proxy auth required", 407, "Proxy Authentication Required", types.OutcomeAuthFailed},
		{"unmapped status", 603, "Decline", types.OutcomeUnknownError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome, hint := Classify(tc.status, tc.message)
			assert.Equal(t, tc.want, outcome)
			assert.Empty(t, hint)
		})
	}
}

func TestClassifyCause34WinsOverStatus(t *testing.T) {
	// Carriers wrap the no-circuit indication in varying status codes; the
	// cause code must decide regardless.
	for _, status := range []int{404, 480, 486, 503} {
		outcome, hint := Classify(status, "Not Found;cause=34;text=\"no route to destination\"")
		assert.Equal(t, types.OutcomeNoRoute, outcome)
		assert.Contains(t, hint, "outbound route")
	}
}
