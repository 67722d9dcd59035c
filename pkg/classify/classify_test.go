package classify

import "testing"

func ptr(v int64) *int64 { return &v }

func TestClassifyTransportErrors(t *testing.T) {
	cases := []struct {
		name string
		err  string
		want ResultKind
	}{
		{"timeout", "context deadline exceeded: timeout", Timeout},
		{"ssl lowercase", "x509: ssl handshake failed", SSLError},
		{"certificate", "tls: failed to verify certificate", SSLError},
		{"connection refused", "dial tcp: connection refused", ConnectionError},
		{"refused only", "read: request was refused by peer", ConnectionError},
		{"unrecognized", "some unexpected transport failure", UnknownError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(Input{TransportErr: tc.err})
			if got != tc.want {
				t.Errorf("Classify(%q) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassifyStatusBased(t *testing.T) {
	cases := []struct {
		name string
		in   Input
		want ResultKind
	}{
		{
			name: "auth failure",
			in:   Input{ExpectedStatus: 200, ActualStatus: 401},
			want: AuthFailure,
		},
		{
			name: "server error",
			in:   Input{ExpectedStatus: 200, ActualStatus: 503},
			want: ServerError,
		},
		{
			name: "status mismatch",
			in:   Input{ExpectedStatus: 200, ActualStatus: 301},
			want: StatusMismatch,
		},
		{
			name: "latency breach",
			in:   Input{ExpectedStatus: 200, ActualStatus: 200, LatencyMS: 5000, MaxLatencyMS: ptr(2000)},
			want: LatencyBreach,
		},
		{
			name: "success under latency cap",
			in:   Input{ExpectedStatus: 200, ActualStatus: 200, LatencyMS: 100, MaxLatencyMS: ptr(2000)},
			want: Success,
		},
		{
			name: "success with no latency cap configured",
			in:   Input{ExpectedStatus: 200, ActualStatus: 200, LatencyMS: 99999},
			want: Success,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.in); got != tc.want {
				t.Errorf("Classify(%+v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

// TestClassifyDecisionOrder pins the priority order from the decision table:
// a transport error always wins, 401 beats 5xx beats mismatch beats latency.
func TestClassifyDecisionOrder(t *testing.T) {
	in := Input{
		ExpectedStatus: 200,
		ActualStatus:   401,
		LatencyMS:      9999,
		MaxLatencyMS:   ptr(10),
		TransportErr:   "",
	}
	if got := Classify(in); got != AuthFailure {
		t.Errorf("401 should win over latency breach, got %v", got)
	}

	in2 := Input{ExpectedStatus: 200, ActualStatus: 503, TransportErr: ""}
	if got := Classify(in2); got != ServerError {
		t.Errorf("5xx should win over status mismatch, got %v", got)
	}

	in3 := Input{ExpectedStatus: 200, ActualStatus: 200, TransportErr: "connection timeout while dialing"}
	if got := Classify(in3); got != Timeout {
		t.Errorf("transport error should win over any status reasoning, got %v", got)
	}
}

func TestResultKindSuccess(t *testing.T) {
	if !Success.Success() {
		t.Error("Success.Success() should be true")
	}
	for _, k := range []ResultKind{Timeout, SSLError, ConnectionError, UnknownError, AuthFailure, ServerError, StatusMismatch, LatencyBreach} {
		if k.Success() {
			t.Errorf("%v.Success() should be false", k)
		}
	}
}

func TestResultKindSeverity(t *testing.T) {
	cases := []struct {
		kind ResultKind
		want string
	}{
		{Success, "INFO"},
		{LatencyBreach, "WARNING"},
		{AuthFailure, "CRITICAL"},
		{SSLError, "CRITICAL"},
		{ServerError, "ERROR"},
		{StatusMismatch, "ERROR"},
		{Timeout, "ERROR"},
		{ConnectionError, "ERROR"},
		{UnknownError, "ERROR"},
	}
	for _, tc := range cases {
		if got := tc.kind.Severity(); got != tc.want {
			t.Errorf("%v.Severity() = %q, want %q", tc.kind, got, tc.want)
		}
	}
}
