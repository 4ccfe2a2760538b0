package decision

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/policyedge/gateway/internal/engine"
	"github.com/policyedge/gateway/internal/metrics"
)

const (
	// DefaultLogPath is the decision path consulted for log-compliance checks.
	DefaultLogPath = "logfilter/deny"
	// DefaultArtifactPath is the decision path consulted for artifact admission.
	DefaultArtifactPath = "gatekeeper/violation"

	logWrapperKey = "log"
)

// Outcome is the gateway-level verdict kind. Unavailable is distinct from
// Denied: it means the engine could not be consulted at all.
type Outcome int

const (
	Allowed Outcome = iota
	Denied
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Result carries the verdict and, when denied, the engine's objections
// verbatim and in order.
type Result struct {
	Outcome Outcome
	Reasons []interface{}
	Err     error
}

func (r Result) Allowed() bool {
	return r.Outcome == Allowed
}

// QueryClient is the subset of the engine client the router needs.
type QueryClient interface {
	Query(ctx context.Context, decisionPath string, input interface{}) ([]interface{}, error)
}

// Router builds evaluation queries from inbound payloads and maps engine
// verdicts to gateway results. It is stateless aside from the shared engine
// client and never reads synchronization state.
type Router struct {
	logger       *logrus.Logger
	client       QueryClient
	logPath      string
	artifactPath string
	metrics      *metrics.DecisionMetrics
}

func NewRouter(logger *logrus.Logger, client QueryClient, decisionMetrics *metrics.DecisionMetrics) *Router {
	return &Router{
		logger:       logger.WithField("component", "decision-router").Logger,
		client:       client,
		logPath:      DefaultLogPath,
		artifactPath: DefaultArtifactPath,
		metrics:      decisionMetrics,
	}
}

// ExtractLogPayload unwraps a log record optionally nested under a "log"
// key, so `{"log": {...}}` and the bare record evaluate identically.
func ExtractLogPayload(payload interface{}) interface{} {
	if m, ok := payload.(map[string]interface{}); ok {
		if inner, ok := m[logWrapperKey]; ok {
			return inner
		}
	}
	return payload
}

// EvaluateLog checks a log record against the log-compliance decision path.
// A non-empty result list is a denial with those entries as reasons.
func (r *Router) EvaluateLog(ctx context.Context, payload interface{}) Result {
	return r.evaluate(ctx, r.logPath, ExtractLogPayload(payload))
}

// EvaluateArtifacts checks a set of artifact descriptors against the
// admission decision path. Violations, if any, are surfaced in full.
func (r *Router) EvaluateArtifacts(ctx context.Context, artifacts []interface{}) Result {
	input := map[string]interface{}{"artifacts": artifacts}
	return r.evaluate(ctx, r.artifactPath, input)
}

func (r *Router) evaluate(ctx context.Context, path string, input interface{}) Result {
	start := time.Now()
	results, err := r.client.Query(ctx, path, input)
	if err != nil {
		if errors.Is(err, engine.ErrEngineUnavailable) {
			r.logger.WithField("decision_path", path).Errorf("engine unavailable: %v", err)
			r.metrics.RecordEvaluation(path, Unavailable.String(), time.Since(start))
			return Result{Outcome: Unavailable, Err: err}
		}
		r.logger.WithField("decision_path", path).Errorf("evaluation failed: %v", err)
		r.metrics.RecordEvaluation(path, Unavailable.String(), time.Since(start))
		return Result{Outcome: Unavailable, Err: err}
	}

	if len(results) > 0 {
		r.metrics.RecordEvaluation(path, Denied.String(), time.Since(start))
		return Result{Outcome: Denied, Reasons: results}
	}
	r.metrics.RecordEvaluation(path, Allowed.String(), time.Since(start))
	return Result{Outcome: Allowed}
}
