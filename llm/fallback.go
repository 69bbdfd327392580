package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/semreq/quality"
)

// OracleHealth tracks the health of one oracle in a fallback chain.
type OracleHealth struct {
	Available       bool      `json:"available"`
	LastSuccess     time.Time `json:"last_success,omitempty"`
	LastFailure     time.Time `json:"last_failure,omitempty"`
	FailureCount    int       `json:"failure_count"`
	CircuitOpen     bool      `json:"circuit_open"`
	CircuitOpenedAt time.Time `json:"circuit_opened_at,omitempty"`
}

// HealthConfig configures circuit breaking in a fallback chain.
type HealthConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	FailureThreshold int `yaml:"failure_threshold"`
	// RecoveryTimeout is how long an open circuit is skipped before one
	// trial call is let through.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
}

// DefaultHealthConfig returns the default circuit settings.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
	}
}

// FallbackOracle asks a chain of oracles in order and returns the first
// answer. Oracles whose circuit is open are skipped until their recovery
// timeout passes. When every circuit is open the whole chain is tried.
type FallbackOracle struct {
	oracles []quality.Oracle
	config  HealthConfig
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	statuses map[string]*OracleHealth
}

// NewFallbackOracle builds a chain. Zero config fields take the defaults.
func NewFallbackOracle(oracles []quality.Oracle, cfg HealthConfig, logger *slog.Logger) *FallbackOracle {
	def := DefaultHealthConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackOracle{
		oracles:  oracles,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
		statuses: make(map[string]*OracleHealth),
	}
}

// Name joins the chain's names with ">".
func (f *FallbackOracle) Name() string {
	names := make([]string, len(f.oracles))
	for i, o := range f.oracles {
		names[i] = o.Name()
	}
	return strings.Join(names, ">")
}

// Suggest tries each available oracle until one answers.
func (f *FallbackOracle) Suggest(ctx context.Context, req quality.Request) ([]quality.Suggestion, error) {
	if len(f.oracles) == 0 {
		return nil, NewFatalError(fmt.Errorf("empty oracle chain"))
	}

	var errs []error
	for _, o := range f.chain() {
		out, err := o.Suggest(ctx, req)
		if err == nil {
			f.markSuccess(o.Name())
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.markFailure(o.Name())
		f.logger.Warn("Oracle failed, trying next in chain",
			"oracle", o.Name(),
			"requirement_id", req.RequirementID,
			"error", err)
		errs = append(errs, fmt.Errorf("%s: %w", o.Name(), err))
	}
	return nil, fmt.Errorf("all oracles failed: %w", errors.Join(errs...))
}

// Health returns a copy of the named oracle's status, or nil before its
// first call.
func (f *FallbackOracle) Health(name string) *OracleHealth {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.statuses[name]; ok {
		cp := *s
		return &cp
	}
	return nil
}

func (f *FallbackOracle) chain() []quality.Oracle {
	available := make([]quality.Oracle, 0, len(f.oracles))
	for _, o := range f.oracles {
		if f.isAvailable(o.Name()) {
			available = append(available, o)
		}
	}
	if len(available) == 0 {
		return f.oracles
	}
	return available
}

func (f *FallbackOracle) isAvailable(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.statuses[name]
	if !ok || !s.CircuitOpen {
		return true
	}
	// half-open
	return f.now().Sub(s.CircuitOpenedAt) > f.config.RecoveryTimeout
}

func (f *FallbackOracle) status(name string) *OracleHealth {
	s, ok := f.statuses[name]
	if !ok {
		s = &OracleHealth{Available: true}
		f.statuses[name] = s
	}
	return s
}

func (f *FallbackOracle) markSuccess(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.status(name)
	s.LastSuccess = f.now()
	s.FailureCount = 0
	s.Available = true
	s.CircuitOpen = false
}

func (f *FallbackOracle) markFailure(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.status(name)
	s.LastFailure = f.now()
	s.FailureCount++
	if s.FailureCount >= f.config.FailureThreshold {
		if !s.CircuitOpen {
			f.logger.Warn("Oracle circuit opened", "oracle", name, "failures", s.FailureCount)
		}
		s.CircuitOpen = true
		s.CircuitOpenedAt = f.now()
		s.Available = false
	}
}
