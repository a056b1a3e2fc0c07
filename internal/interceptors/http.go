// Package interceptors decorates outbound HTTP calls made from activities
// with run identity and trace context.
package interceptors

import (
	"net/http"

	"go.temporal.io/sdk/activity"

	"github.com/troupehq/troupe/internal/tracing"
)

// RunHTTPRoundTripper stamps outgoing requests with the workflow identity
// of the calling activity plus a W3C traceparent, so provider-side logs
// can be joined back to a run.
type RunHTTPRoundTripper struct {
	base http.RoundTripper
}

// NewRunHTTPRoundTripper wraps base (http.DefaultTransport when nil).
func NewRunHTTPRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RunHTTPRoundTripper{base: base}
}

// RoundTrip implements http.RoundTripper.
func (rt *RunHTTPRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// activity.GetInfo panics outside an activity context (plain tests,
	// startup probes); recover and send the request without run headers.
	func() {
		defer func() {
			_ = recover()
		}()
		info := activity.GetInfo(req.Context())
		if info.WorkflowExecution.ID != "" {
			req.Header.Set("X-Workflow-ID", info.WorkflowExecution.ID)
			req.Header.Set("X-Run-ID", info.WorkflowExecution.RunID)
		}
	}()

	tracing.InjectTraceparent(req.Context(), req)
	return rt.base.RoundTrip(req)
}
