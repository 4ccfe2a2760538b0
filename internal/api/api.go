package api

// LogCheckResponse is the body returned by the log-compliance endpoints.
type LogCheckResponse struct {
	Allowed bool          `json:"allowed"`
	Message string        `json:"message,omitempty"`
	Reasons []interface{} `json:"reasons,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// ArtifactCheckRequest is the body accepted by the admission endpoint.
type ArtifactCheckRequest struct {
	Artifacts []interface{} `json:"artifacts" validate:"required"`
}

// ArtifactCheckResponse is the body returned by the admission endpoint.
// Violations is always present so callers can range over it unguarded.
type ArtifactCheckResponse struct {
	Allowed    bool          `json:"allowed"`
	Violations []interface{} `json:"violations"`
	Error      string        `json:"error,omitempty"`
}

// AttributeChangeResponse reports the per-service outcome of one attribute
// fan-out.
type AttributeChangeResponse struct {
	Success    bool              `json:"success"`
	Successful []string          `json:"successful,omitempty"`
	Failures   map[string]string `json:"failures,omitempty"`
}

// ErrorResponse is the generic error body for malformed requests.
type ErrorResponse struct {
	Message string `json:"message"`
}

const (
	msgRequestParseFailed = "failed to parse request body"
	msgEngineUnavailable  = "policy engine unavailable"
	msgLogAllowed         = "Log entry is allowed"
)
