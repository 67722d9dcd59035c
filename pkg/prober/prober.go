// Package prober executes one HTTP check against an endpoint and returns a
// classified CheckResult. It shares a single connection pool across calls
// and is safe under concurrent invocation.
package prober

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/pulsecheck/pkg/classify"
	"github.com/wisbric/pulsecheck/pkg/monitor"
	"github.com/wisbric/pulsecheck/pkg/secretstore"
)

// maxResponseBody caps in-memory response bodies; everything beyond it is
// discarded, never retained. Bodies are only read to let the transport
// finish determining status and latency — they are never stored.
const maxResponseBody = 1 << 20 // 1 MiB

// CredentialOpener decrypts the secret bound to a Credential. Implemented by
// *secretstore.Store via the Open method, narrowed here so the Prober does
// not depend on how credentials are looked up.
type CredentialOpener interface {
	Open(ciphertext string) (string, error)
}

// CredentialLookup resolves a Credential by id. Implemented by
// *monitor.Store.
type CredentialLookup interface {
	Credential(ctx context.Context, id uuid.UUID) (monitor.Credential, error)
}

// Prober executes probes over one shared *http.Client.
type Prober struct {
	client  *http.Client
	secrets CredentialOpener
	creds   CredentialLookup
	logger  *slog.Logger
}

// New constructs a Prober. The http.Client's Transport pools connections
// across every probe; callers must not construct a new Prober per call.
func New(secrets CredentialOpener, creds CredentialLookup, logger *slog.Logger) *Prober {
	return &Prober{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        200,
				MaxIdleConnsPerHost: 50,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		secrets: secrets,
		creds:   creds,
		logger:  logger,
	}
}

// Probe runs one HTTP check against endpoint and returns a classified
// CheckResult. The per-probe deadline is total (connect + write + read), set
// from endpoint.TimeoutMS; it is never converted into a per-I/O-step
// deadline.
func (p *Prober) Probe(ctx context.Context, endpoint monitor.Endpoint) monitor.CheckResult {
	deadline := time.Duration(endpoint.TimeoutMS) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	req, err := p.buildRequest(ctx, endpoint)
	if err != nil {
		if isCryptoErr(err) {
			if p.logger != nil {
				p.logger.Error("probe aborted: credential unreadable", "endpoint_id", endpoint.ID, "error", err)
			}
			return p.errorResultWithKind(endpoint, 0, time.Now(), err, classify.UnknownError)
		}
		return p.errorResult(endpoint, 0, time.Now(), err)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return p.errorResult(endpoint, 0, start, err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	latency := time.Since(start)

	kind := classify.Classify(classify.Input{
		ExpectedStatus: endpoint.ExpectedStatus,
		ActualStatus:   resp.StatusCode,
		LatencyMS:      latency.Milliseconds(),
		MaxLatencyMS:   endpoint.MaxLatencyMS,
	})

	if p.logger != nil {
		p.logger.Debug("probe completed",
			"endpoint_id", endpoint.ID,
			"status_code", resp.StatusCode,
			"latency_ms", latency.Milliseconds(),
			"kind", kind,
		)
	}

	return monitor.CheckResult{
		ID:         uuid.New(),
		EndpointID: endpoint.ID,
		StatusCode: resp.StatusCode,
		LatencyMS:  latency.Milliseconds(),
		Success:    kind.Success(),
		Kind:       string(kind),
		CreatedAt:  time.Now(),
	}
}

func (p *Prober) buildRequest(ctx context.Context, endpoint monitor.Endpoint) (*http.Request, error) {
	var body io.Reader
	if endpoint.Body != "" && requestBodyAllowed(endpoint.Method) {
		body = bytes.NewBufferString(endpoint.Body)
	}

	req, err := http.NewRequestWithContext(ctx, endpoint.Method, endpoint.URL, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Parse errors in the opaque custom-header blob are logged and silently
	// ignored; the request proceeds without custom headers.
	if len(endpoint.Headers) > 0 {
		var custom map[string]string
		if err := json.Unmarshal(endpoint.Headers, &custom); err != nil {
			if p.logger != nil {
				p.logger.Warn("ignoring malformed endpoint headers", "endpoint_id", endpoint.ID, "error", err)
			}
		} else {
			for k, v := range custom {
				req.Header.Set(k, v)
			}
		}
	}

	if endpoint.CredentialID != nil {
		if err := p.applyCredential(ctx, req, *endpoint.CredentialID); err != nil {
			return nil, err
		}
	}

	return req, nil
}

func (p *Prober) applyCredential(ctx context.Context, req *http.Request, credentialID uuid.UUID) error {
	cred, err := p.creds.Credential(ctx, credentialID)
	if err != nil {
		return fmt.Errorf("%w: loading credential: %v", secretstore.ErrCrypto, err)
	}

	value, err := p.secrets.Open(cred.SealedValue)
	if err != nil {
		return fmt.Errorf("opening credential value: %w", err)
	}

	var username string
	if cred.SealedUsername != "" {
		username, err = p.secrets.Open(cred.SealedUsername)
		if err != nil {
			return fmt.Errorf("opening credential username: %w", err)
		}
	}

	// value/username live only in these locals for the duration of this
	// call; they are never logged and go out of scope once the header is set.
	name, headerValue, err := secretstore.ProjectAuthHeader(cred.Type, cred.HeaderName, username, value)
	if err != nil {
		return fmt.Errorf("projecting auth header: %w", err)
	}

	req.Header.Set(name, headerValue)
	return nil
}

func requestBodyAllowed(method string) bool {
	switch method {
	case monitor.MethodPost, monitor.MethodPut, monitor.MethodPatch:
		return true
	default:
		return false
	}
}

// errorResult builds a CheckResult for a transport-level failure: status
// code 0, latency measured up to the failure, and the error classified as a
// failure kind.
func (p *Prober) errorResult(endpoint monitor.Endpoint, statusCode int, start time.Time, err error) monitor.CheckResult {
	latency := time.Since(start)
	kind := classify.Classify(classify.Input{
		ExpectedStatus: endpoint.ExpectedStatus,
		ActualStatus:   statusCode,
		LatencyMS:      latency.Milliseconds(),
		MaxLatencyMS:   endpoint.MaxLatencyMS,
		TransportErr:   err.Error(),
	})
	return p.buildErrorResult(endpoint, statusCode, latency, err, kind)
}

// errorResultWithKind bypasses text-based classification and forces kind.
// Used when err did not originate on the wire (e.g. a Secret Store failure),
// so matching its text against transport-error substrings would be
// coincidental rather than meaningful.
func (p *Prober) errorResultWithKind(endpoint monitor.Endpoint, statusCode int, start time.Time, err error, kind classify.ResultKind) monitor.CheckResult {
	return p.buildErrorResult(endpoint, statusCode, time.Since(start), err, kind)
}

func (p *Prober) buildErrorResult(endpoint monitor.Endpoint, statusCode int, latency time.Duration, err error, kind classify.ResultKind) monitor.CheckResult {
	errText := err.Error()
	message := errText
	if len(message) > 1000 {
		message = message[:1000]
	}

	if p.logger != nil {
		p.logger.Debug("probe failed", "endpoint_id", endpoint.ID, "error", errText, "kind", kind)
	}

	return monitor.CheckResult{
		ID:           uuid.New(),
		EndpointID:   endpoint.ID,
		StatusCode:   statusCode,
		LatencyMS:    latency.Milliseconds(),
		Success:      false,
		Kind:         string(kind),
		ErrorMessage: message,
		CreatedAt:    time.Now(),
	}
}

// isCryptoErr reports whether err originated in the Secret Store. Per the
// error taxonomy, a probe requiring an unreadable credential logs ERROR and
// records an UNKNOWN_ERROR CheckResult rather than surfacing further up.
func isCryptoErr(err error) bool {
	return errors.Is(err, secretstore.ErrCrypto)
}
