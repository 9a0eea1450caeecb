// Package load provides the virtual-user engine that drives synthetic
// storefront traffic.
//
// The package owns the per-VU pieces of a run: the VU lifecycle and pool,
// the jittered pacer, the bearer token cache and the storefront workflow.
// Stage scheduling lives in the executor subpackage, metrics aggregation in
// the metrics subpackage and run orchestration in the runner subpackage.
package load

import "time"

// Logical call names. These, not the literal URLs, are the metrics
// dimension key.
const (
	CallLogin           = "POST /users/login"
	CallProducts        = "GET /products"
	CallBrands          = "GET /brands"
	CallCategories      = "GET /categories"
	CallProductDetail   = "GET /products/:id"
	CallProductsRelated = "GET /products/:id/related"
	CallMe              = "GET /users/me"
)

// Workflow step (group) names.
const (
	StepSetup          = "setup"
	StepCatalog        = "catalog"
	StepLists          = "lists"
	StepProductDetail  = "product-detail"
	StepProductRelated = "product-related"
	StepAuth           = "auth"
)

// RequestOutcome is emitted for every HTTP call the engine makes.
// The engine never retains outcomes after handing them to the Sink.
type RequestOutcome struct {
	VUID          int           `json:"vuId"`
	Iteration     int64         `json:"iteration"`
	Step          string        `json:"step"`
	Name          string        `json:"name"`
	StatusCode    int           `json:"statusCode"`
	Latency       time.Duration `json:"latency"`
	Success       bool          `json:"success"`
	BytesReceived int64         `json:"bytesReceived"`
	Error         error         `json:"-"`
}

// LatencyMs returns the latency in fractional milliseconds.
func (o RequestOutcome) LatencyMs() float64 {
	return float64(o.Latency) / float64(time.Millisecond)
}

// Sink consumes request outcomes. Implementations must be safe for
// concurrent use; every VU loop reports into the same Sink.
type Sink interface {
	Record(outcome RequestOutcome)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(RequestOutcome)

// Record calls f(outcome).
func (f SinkFunc) Record(outcome RequestOutcome) { f(outcome) }

// DiscardSink drops every outcome.
var DiscardSink Sink = SinkFunc(func(RequestOutcome) {})
