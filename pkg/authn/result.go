package authn

import (
	"golang.org/x/text/cases"

	"github.com/openclaw/bridge/pkg/message"
)

// VerificationResult is the uniform authentication verdict every channel
// verifier produces, regardless of the underlying mechanism. Reason is
// populated only on rejection.
type VerificationResult struct {
	Authenticated bool               `json:"authenticated"`
	Mechanism     string             `json:"mechanism"`
	KeyID         string             `json:"keyId,omitempty"`
	Confidence    message.Confidence `json:"confidence"`
	Reason        string             `json:"reason,omitempty"`
}

// Reject returns the shared failure shape: callers can rely on a single
// rejected form while still inspecting Reason for diagnostics.
func Reject(reason string) VerificationResult {
	return VerificationResult{
		Authenticated: false,
		Mechanism:     "none",
		Confidence:    message.ConfidenceLow,
		Reason:        reason,
	}
}

var foldCaser = cases.Fold()

// FoldSet builds a case-folded membership set from an allowlist.
func FoldSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[foldCaser.String(v)] = struct{}{}
	}
	return set
}

// FoldContains reports whether value is in the case-folded set.
func FoldContains(set map[string]struct{}, value string) bool {
	_, ok := set[foldCaser.String(value)]
	return ok
}
