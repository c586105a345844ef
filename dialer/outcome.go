package dialer

import (
	"strings"

	"github.com/voxbridge/phone-agent/types"
)

const noRouteHint = "cause=34 from the trunk almost always means a missing outbound route for this number pattern, not a network problem"

// Classify maps a failed call attempt to a domain outcome. The vendor
// "no circuit available" indication (cause code 34) wins over the status
// code because carriers wrap it in varying 4xx/5xx responses.
func Classify(status int, message string) (types.Outcome, string) {
	if strings.Contains(message, "cause=34") {
		return types.OutcomeNoRoute, noRouteHint
	}

	switch status {
	case 486:
		return types.OutcomeBusy, ""
	case 480, 408:
		return types.OutcomeNoAnswer, ""
	case 404:
		return types.OutcomeNotFound, ""
	case 503:
		return types.OutcomeServiceUnavailable, ""
	case 401, 407:
		return types.OutcomeAuthFailed, ""
	}
	return types.OutcomeUnknownError, ""
}
