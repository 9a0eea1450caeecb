package load

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Target is the storefront API under test. It builds requests against the
// base URL, executes them through the shared HTTP client and reports one
// RequestOutcome per completed call.
type Target struct {
	baseURL string
	client  Doer
	sink    Sink
}

// NewTarget creates a Target. Trailing slashes on baseURL are dropped so
// paths can always start with "/".
func NewTarget(baseURL string, client Doer, sink Sink) *Target {
	if sink == nil {
		sink = DiscardSink
	}
	return &Target{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		sink:    sink,
	}
}

// BaseURL returns the normalized base URL.
func (t *Target) BaseURL() string {
	return t.baseURL
}

// call describes one HTTP call of the workflow.
type call struct {
	step   string
	name   string
	method string
	path   string
	body   []byte
	bearer string
	expect int
}

// callResult is what the workflow sees of a call.
type callResult struct {
	StatusCode int
	Body       []byte
	Err        error
}

// OK reports whether the call got the expected 200.
func (r callResult) OK() bool {
	return r.Err == nil && r.StatusCode == http.StatusOK
}

// callOrigin identifies who issued a call, for outcome attribution.
type callOrigin struct {
	vuID      int
	iteration int64
}

type originKey struct{}

// withOrigin attaches origin to ctx so calls made on the VU's behalf by
// collaborators, such as a token refresh, are attributed to the same
// iteration.
func withOrigin(ctx context.Context, origin callOrigin) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// originFrom returns the origin attached to ctx, or fallback.
func originFrom(ctx context.Context, fallback callOrigin) callOrigin {
	if origin, ok := ctx.Value(originKey{}).(callOrigin); ok {
		return origin
	}
	return fallback
}

// do executes c and reports its outcome. A call abandoned because ctx was
// cancelled mid-flight is not reported.
func (t *Target) do(ctx context.Context, origin callOrigin, c call) callResult {
	startTime := time.Now()

	outcome := RequestOutcome{
		VUID:      origin.vuID,
		Iteration: origin.iteration,
		Step:      c.step,
		Name:      c.name,
	}

	req, err := t.buildRequest(ctx, c)
	if err != nil {
		outcome.Latency = time.Since(startTime)
		outcome.Error = fmt.Errorf("failed to build request: %w", err)
		t.sink.Record(outcome)
		return callResult{Err: outcome.Error}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return callResult{Err: ctx.Err()}
		}
		outcome.Latency = time.Since(startTime)
		outcome.Error = err
		t.sink.Record(outcome)
		return callResult{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	outcome.Latency = time.Since(startTime)
	outcome.StatusCode = resp.StatusCode
	outcome.BytesReceived = int64(len(body))
	if err != nil {
		if ctx.Err() != nil {
			return callResult{StatusCode: resp.StatusCode, Err: ctx.Err()}
		}
		outcome.Error = fmt.Errorf("failed to read response body: %w", err)
		t.sink.Record(outcome)
		return callResult{StatusCode: resp.StatusCode, Err: outcome.Error}
	}

	expect := c.expect
	if expect == 0 {
		expect = http.StatusOK
	}
	outcome.Success = resp.StatusCode == expect
	t.sink.Record(outcome)

	return callResult{StatusCode: resp.StatusCode, Body: body}
}

// buildRequest builds an HTTP request for c.
func (t *Target) buildRequest(ctx context.Context, c call) (*http.Request, error) {
	var body io.Reader
	if c.body != nil {
		body = bytes.NewReader(c.body)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, t.baseURL+c.path, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	return req, nil
}

// jsonBody marshals v for a request body.
func jsonBody(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
