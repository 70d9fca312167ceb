// Package brainx supplies the concrete runtime.Brain implementations this
// repo ships out of the box: a deterministic stub used until a real
// provider is configured, and a failover wrapper that tries a primary
// provider then an ordered list of fallbacks behind per-provider circuit
// breakers (SPEC_FULL.md §12 item 1). The actual LLM client library is an
// external collaborator (spec.md §1); nothing in this package talks to a
// real provider over the network.
package brainx

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nx/nxclaw/internal/runtime"
)

// StubBrain is a deterministic runtime.Brain used when no provider is
// configured (or in tests): it never calls out to the network and never
// fails, so `nxclaw start` runs end-to-end without credentials.
type StubBrain struct {
	Name string
}

func (b StubBrain) Prompt(_ context.Context, sessionID, prompt string) (string, error) {
	name := b.Name
	if name == "" {
		name = "stub"
	}
	preview := prompt
	if len(preview) > 200 {
		preview = preview[:200] + "…"
	}
	return fmt.Sprintf("[%s brain, session %s] received %d chars: %q", name, sessionID, len(prompt), preview), nil
}

// NamedBrain pairs a runtime.Brain with the provider name its circuit
// breaker is tracked under.
type NamedBrain struct {
	name  string
	brain runtime.Brain
}

// NewNamedBrain builds a NamedBrain for use with NewFailoverBrain.
func NewNamedBrain(name string, brain runtime.Brain) NamedBrain {
	return NamedBrain{name: name, brain: brain}
}

// circuitBreaker tracks failure counts and trip state for one provider,
// grounded on go-claw's internal/engine/failover.go CircuitBreaker.
type circuitBreaker struct {
	failures    int
	lastFailure time.Time
	tripped     bool
}

// FailoverBrain wraps a primary Brain with ordered fallbacks, each guarded
// by its own circuit breaker. It implements runtime.Brain.
type FailoverBrain struct {
	primary   NamedBrain
	fallbacks []NamedBrain
	logger    *slog.Logger

	mu        sync.Mutex
	breakers  map[string]*circuitBreaker
	threshold int
	cooldown  time.Duration
}

// NewFailoverBrain builds a FailoverBrain. threshold is the number of
// consecutive failures before a provider's breaker trips; cooldown is how
// long a tripped breaker stays open before the provider is retried.
func NewFailoverBrain(primary NamedBrain, fallbacks []NamedBrain, threshold int, cooldown time.Duration, logger *slog.Logger) *FailoverBrain {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	breakers := map[string]*circuitBreaker{primary.name: {}}
	for _, fb := range fallbacks {
		breakers[fb.name] = &circuitBreaker{}
	}
	return &FailoverBrain{
		primary:   primary,
		fallbacks: fallbacks,
		logger:    logger,
		breakers:  breakers,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Prompt tries the primary provider, then each fallback in declared order,
// skipping any provider whose breaker is currently tripped.
func (fb *FailoverBrain) Prompt(ctx context.Context, sessionID, prompt string) (string, error) {
	candidates := make([]NamedBrain, 0, 1+len(fb.fallbacks))
	candidates = append(candidates, fb.primary)
	candidates = append(candidates, fb.fallbacks...)

	var lastErr error
	for _, c := range candidates {
		if fb.isTripped(c.name) {
			fb.logger.Info("brainx: skipping tripped provider", "provider", c.name)
			continue
		}
		resp, err := c.brain.Prompt(ctx, sessionID, prompt)
		if err == nil {
			fb.recordSuccess(c.name)
			return resp, nil
		}
		lastErr = err
		fb.recordFailure(c.name)
		fb.logger.Warn("brainx: provider failed", "provider", c.name, "error", err)
	}
	if lastErr == nil {
		return "", fmt.Errorf("brainx: no providers configured")
	}
	return "", fmt.Errorf("brainx: all providers failed, last error: %w", lastErr)
}

func (fb *FailoverBrain) isTripped(name string) bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	b, ok := fb.breakers[name]
	if !ok {
		return false
	}
	if b.tripped && time.Since(b.lastFailure) > fb.cooldown {
		b.tripped = false
		b.failures = 0
	}
	return b.tripped
}

func (fb *FailoverBrain) recordFailure(name string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	b, ok := fb.breakers[name]
	if !ok {
		b = &circuitBreaker{}
		fb.breakers[name] = b
	}
	b.failures++
	b.lastFailure = time.Now()
	if b.failures >= fb.threshold {
		b.tripped = true
	}
}

func (fb *FailoverBrain) recordSuccess(name string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if b, ok := fb.breakers[name]; ok {
		b.failures = 0
		b.tripped = false
	}
}

// BreakerStatus reports whether the named provider's breaker is tripped,
// for status/diagnostic surfaces.
func (fb *FailoverBrain) BreakerStatus() map[string]bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	out := make(map[string]bool, len(fb.breakers))
	for name, b := range fb.breakers {
		out[name] = b.tripped
	}
	return out
}

// ProviderNames returns the primary provider followed by its fallbacks, in
// try-order.
func (fb *FailoverBrain) ProviderNames() []string {
	names := make([]string, 0, 1+len(fb.fallbacks))
	names = append(names, fb.primary.name)
	for _, fb2 := range fb.fallbacks {
		names = append(names, fb2.name)
	}
	return names
}

// BuildFromConfig assembles a runtime.NewBrainFn from an LLM provider name
// plus its fallback chain. Every provider resolves to a StubBrain today
// (the real client library is external per spec.md §1); a real deployment
// would substitute in provider-specific runtime.Brain implementations here
// without changing FailoverBrain or the orchestrator.
func BuildFromConfig(provider string, fallbacks []string, threshold, cooldownSeconds int, logger *slog.Logger) runtime.NewBrainFn {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		provider = "google"
	}
	primary := NewNamedBrain(provider, StubBrain{Name: provider})
	if len(fallbacks) == 0 {
		return func(string) (runtime.Brain, error) { return primary.brain, nil }
	}
	fbList := make([]NamedBrain, 0, len(fallbacks))
	for _, name := range fallbacks {
		name = strings.TrimSpace(name)
		if name == "" || name == provider {
			continue
		}
		fbList = append(fbList, NewNamedBrain(name, StubBrain{Name: name}))
	}
	if len(fbList) == 0 {
		return func(string) (runtime.Brain, error) { return primary.brain, nil }
	}
	cooldown := time.Duration(cooldownSeconds) * time.Second
	fbBrain := NewFailoverBrain(primary, fbList, threshold, cooldown, logger)
	return func(string) (runtime.Brain, error) { return fbBrain, nil }
}
