// Package attrsync fans a single user-attribute change out to multiple
// directory-service backends. It is independent of the policy pipeline and
// shares no state with the syncer or the decision router.
package attrsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrUnknownService marks a change that targeted a backend that was never
// registered.
var ErrUnknownService = errors.New("unknown directory service")

// ErrAlreadyRegistered is returned when registering a backend name that is
// taken and replace was not requested.
var ErrAlreadyRegistered = errors.New("service already registered")

// ChangeRequest is a single attribute change to propagate. An empty
// Services list targets every registered backend.
type ChangeRequest struct {
	UserID    string      `json:"user_id" validate:"required"`
	Attribute string      `json:"attribute" validate:"required"`
	Value     interface{} `json:"value"`
	Services  []string    `json:"services,omitempty"`
}

// Validate reports whether the request is well-formed.
func (r ChangeRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user_id must be provided")
	}
	if strings.TrimSpace(r.Attribute) == "" {
		return errors.New("attribute must be provided")
	}
	for _, service := range r.Services {
		if strings.TrimSpace(service) == "" {
			return errors.New("service names must be non-empty")
		}
	}
	return nil
}

// Result is the per-service outcome of applying one change.
type Result struct {
	Request    ChangeRequest    `json:"request"`
	Successful []string         `json:"successful"`
	Failures   map[string]error `json:"-"`
}

// Success reports whether every targeted backend accepted the change.
func (r Result) Success() bool {
	return len(r.Failures) == 0
}

// Err folds all per-service failures into one error, nil when none.
func (r Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	services := make([]string, 0, len(r.Failures))
	for service := range r.Failures {
		services = append(services, service)
	}
	sort.Strings(services)

	parts := make([]string, 0, len(services))
	for _, service := range services {
		parts = append(parts, fmt.Sprintf("%s: %v", service, r.Failures[service]))
	}
	return fmt.Errorf("one or more directory updates failed: %s", strings.Join(parts, ", "))
}

// FailureMessages returns failure text keyed by service, for serialization.
func (r Result) FailureMessages() map[string]string {
	if len(r.Failures) == 0 {
		return nil
	}
	msgs := make(map[string]string, len(r.Failures))
	for service, err := range r.Failures {
		msgs[service] = err.Error()
	}
	return msgs
}

// Engine coordinates attribute changes across registered backends.
type Engine struct {
	logger *logrus.Logger

	mu       sync.RWMutex
	backends map[string]Backend
}

func NewEngine(logger *logrus.Logger) *Engine {
	return &Engine{
		logger:   logger.WithField("component", "attr-engine").Logger,
		backends: make(map[string]Backend),
	}
}

// Register adds a backend under its own name. Registering a taken name
// fails with ErrAlreadyRegistered unless replace is set.
func (e *Engine) Register(backend Backend, replace bool) error {
	name := strings.TrimSpace(backend.Name())
	if name == "" {
		return errors.New("backend must have a non-empty name")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.backends[name]; exists && !replace {
		return fmt.Errorf("%q: %w", name, ErrAlreadyRegistered)
	}
	e.backends[name] = backend
	return nil
}

// Unregister removes a backend; unknown names are ignored.
func (e *Engine) Unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.backends, name)
}

// Services returns the registered backend names, sorted.
func (e *Engine) Services() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.backends))
	for name := range e.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply propagates one change to its targeted backends. An unknown or
// failing backend becomes a per-service failure; the remaining backends
// are still updated.
func (e *Engine) Apply(ctx context.Context, req ChangeRequest) Result {
	result := Result{
		Request:  req,
		Failures: make(map[string]error),
	}

	targets := req.Services
	if len(targets) == 0 {
		targets = e.Services()
	}

	for _, name := range targets {
		e.mu.RLock()
		backend, ok := e.backends[name]
		e.mu.RUnlock()
		if !ok {
			result.Failures[name] = fmt.Errorf("%q: %w", name, ErrUnknownService)
			continue
		}

		if err := backend.UpdateAttribute(ctx, req.UserID, req.Attribute, req.Value); err != nil {
			e.logger.WithFields(logrus.Fields{
				"service": name,
				"user_id": req.UserID,
			}).Errorf("attribute update failed: %v", err)
			result.Failures[name] = err
			continue
		}
		result.Successful = append(result.Successful, name)
	}

	return result
}

// ApplyAll propagates a batch of changes, one result per request.
func (e *Engine) ApplyAll(ctx context.Context, reqs []ChangeRequest) []Result {
	results := make([]Result, 0, len(reqs))
	for _, req := range reqs {
		results = append(results, e.Apply(ctx, req))
	}
	return results
}
