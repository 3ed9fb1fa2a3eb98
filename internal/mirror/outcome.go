// SPDX-License-Identifier: MIT

package mirror

import "time"

// OutcomeKind classifies the result of a single attempt against one endpoint.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeHTTPError
	OutcomeTimeout
	OutcomeMalformed
)

// String returns the metric label for the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeHTTPError:
		return "http_error"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeMalformed:
		return "malformed"
	}
	return "unknown"
}

// Outcome is the result of a single attempt, consumed exactly once by the
// pool's scorer.
type Outcome struct {
	Kind    OutcomeKind
	Latency time.Duration // meaningful for OutcomeSuccess only
	Status  int           // meaningful for OutcomeHTTPError only
}

// Failed reports whether the outcome should deprioritize the endpoint.
func (o Outcome) Failed() bool {
	return o.Kind != OutcomeSuccess
}
