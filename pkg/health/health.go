package health

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrDegraded marks a check result as degraded rather than unhealthy.
var ErrDegraded = errors.New("degraded")

type CheckerRegistry struct {
	checkers []Checker
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{
		checkers: make([]Checker, 0),
	}
}

func (r *CheckerRegistry) Register(checker Checker) {
	r.checkers = append(r.checkers, checker)
}

func (r *CheckerRegistry) Check(ctx context.Context) Health {
	results := make(map[string]CheckResult)
	allHealthy := true
	anyDegraded := false

	for _, checker := range r.checkers {
		err := checker.Check(ctx)
		result := CheckResult{
			Timestamp: time.Now(),
		}

		switch {
		case err == nil:
			result.Status = StatusHealthy
		case errors.Is(err, ErrDegraded):
			result.Status = StatusDegraded
			result.Message = err.Error()
			anyDegraded = true
		default:
			result.Status = StatusUnhealthy
			result.Message = err.Error()
			allHealthy = false
		}

		results[checker.Name()] = result
	}

	overallStatus := StatusHealthy
	if !allHealthy {
		overallStatus = StatusUnhealthy
	} else if anyDegraded {
		overallStatus = StatusDegraded
	}

	return Health{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Checks:    results,
	}
}

// Handler serves the registry as JSON; unhealthy maps to 503.
func (r *CheckerRegistry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		h := r.Check(req.Context())
		statusCode := http.StatusOK
		if h.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(h)
	}
}

// ConnectionState is satisfied by broker transports.
type ConnectionState interface {
	IsClosed() bool
}

type BrokerChecker struct {
	conn ConnectionState
}

func NewBrokerChecker(conn ConnectionState) *BrokerChecker {
	return &BrokerChecker{conn: conn}
}

func (c *BrokerChecker) Name() string {
	return "broker"
}

func (c *BrokerChecker) Check(ctx context.Context) error {
	if c.conn == nil || c.conn.IsClosed() {
		return errors.New("broker connection is closed")
	}
	return nil
}

// StateChecker reports a named component as unhealthy when fn errors.
type StateChecker struct {
	name string
	fn   func() error
}

func NewStateChecker(name string, fn func() error) *StateChecker {
	return &StateChecker{name: name, fn: fn}
}

func (c *StateChecker) Name() string {
	return c.name
}

func (c *StateChecker) Check(ctx context.Context) error {
	return c.fn()
}
