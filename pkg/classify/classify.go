// Package classify implements the pure decision function that turns one raw
// probe outcome into a closed-taxonomy ResultKind.
package classify

import "strings"

// ResultKind is the closed taxonomy of probe outcomes.
type ResultKind string

const (
	Success         ResultKind = "SUCCESS"
	Timeout         ResultKind = "TIMEOUT"
	SSLError        ResultKind = "SSL_ERROR"
	ConnectionError ResultKind = "CONNECTION_ERROR"
	UnknownError    ResultKind = "UNKNOWN_ERROR"
	AuthFailure     ResultKind = "AUTH_FAILURE"
	ServerError     ResultKind = "SERVER_ERROR"
	StatusMismatch  ResultKind = "STATUS_MISMATCH"
	LatencyBreach   ResultKind = "LATENCY_BREACH"
)

// Input carries everything the classifier needs. TransportErr is the raw
// error text from the HTTP round trip, empty when the request completed.
type Input struct {
	ExpectedStatus int
	ActualStatus   int
	LatencyMS      int64
	MaxLatencyMS   *int64
	TransportErr   string
}

// Classify is total over Input: every combination of fields maps to exactly
// one ResultKind, evaluated in the fixed decision order below. Error-text
// matching (step 1) is a known brittleness inherited from upstream; callers
// with a structured transport error should prefer discriminating on that
// before falling back to Classify.
func Classify(in Input) ResultKind {
	if in.TransportErr != "" {
		return classifyTransportErr(in.TransportErr)
	}

	switch {
	case in.ActualStatus == 401:
		return AuthFailure
	case in.ActualStatus >= 500:
		return ServerError
	case in.ActualStatus != in.ExpectedStatus:
		return StatusMismatch
	case in.MaxLatencyMS != nil && in.LatencyMS > *in.MaxLatencyMS:
		return LatencyBreach
	default:
		return Success
	}
}

func classifyTransportErr(errText string) ResultKind {
	lower := strings.ToLower(errText)
	switch {
	case strings.Contains(lower, "timeout"):
		return Timeout
	case strings.Contains(lower, "ssl"), strings.Contains(lower, "certificate"):
		return SSLError
	case strings.Contains(lower, "connection"), strings.Contains(lower, "refused"):
		return ConnectionError
	default:
		return UnknownError
	}
}

// Success reports whether kind represents a passing check. The Incident
// Engine and State Store both rely on success ⇔ kind == SUCCESS.
func (k ResultKind) Success() bool {
	return k == Success
}

// Severity maps a failure ResultKind to the Alert severity the Alert Engine
// should use when no incident-derived override applies.
func (k ResultKind) Severity() string {
	switch k {
	case Success:
		return "INFO"
	case LatencyBreach:
		return "WARNING"
	case AuthFailure, SSLError:
		return "CRITICAL"
	case ServerError, StatusMismatch, Timeout, ConnectionError, UnknownError:
		return "ERROR"
	default:
		return "ERROR"
	}
}
