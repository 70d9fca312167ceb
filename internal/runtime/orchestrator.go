package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nx/nxclaw/internal/agentsvc"
	"github.com/nx/nxclaw/internal/audit"
	"github.com/nx/nxclaw/internal/bus"
	"github.com/nx/nxclaw/internal/chromectl"
	"github.com/nx/nxclaw/internal/fsutil"
	"github.com/nx/nxclaw/internal/laneq"
	"github.com/nx/nxclaw/internal/memstore"
	"github.com/nx/nxclaw/internal/objectives"
	"github.com/nx/nxclaw/internal/otelx"
	"github.com/nx/nxclaw/internal/tokenutil"
	"github.com/nx/nxclaw/internal/policy"
	"github.com/nx/nxclaw/internal/safety"
	"github.com/nx/nxclaw/internal/shared"
	"github.com/nx/nxclaw/internal/tasks"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// AuthChecker reports whether at least one LLM provider is currently
// authenticated (spec §4.6 step 1). Concrete implementations live outside
// this package (credential storage is a spec-external collaborator); a nil
// AuthChecker is treated as always-authenticated, which is what the CLI's
// `--once` stub-brain mode wants.
type AuthChecker interface {
	IsAuthenticated() bool
}

// Deps wires the orchestrator to every subsystem it composes.
type Deps struct {
	HomeDir       string
	Sessions      *agentsvc.Registry
	Queue         *laneq.Queue
	Memory        *memstore.Store
	Objectives    *objectives.Store
	Tasks         *tasks.Manager
	Chrome        *chromectl.Controller
	Policy        policy.Checker
	Sanitizer     *safety.Sanitizer
	Bus           *bus.Bus
	Logger        *slog.Logger
	NewBrain      NewBrainFn
	Auth          AuthChecker
	ToolsSummary  string // rendered runtime tool list injected into the core context
	SoulSummary   func() string
	SkillPreviews func() []string
	Tracer        trace.Tracer // nil defaults to a no-op tracer
}

// Orchestrator implements handleIncoming and its auxiliary operations
// (spec §4.6), grounded on internal/engine/engine.go's CreateChatTask*
// backpressure-then-enqueue shape and internal/engine/brain.go's
// prompt-assembly and overflow-retry loop.
type Orchestrator struct {
	deps Deps
	cfg  Config

	promptCache *promptCache

	channelsMu sync.RWMutex
	channels   map[string]ChannelHealth

	busyMu sync.Mutex
	busy   bool
}

func New(deps Deps, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer = nooptrace.NewTracerProvider().Tracer(otelx.TracerName)
	}
	return &Orchestrator{
		deps:        deps,
		cfg:         cfg,
		promptCache: newPromptCache(),
		channels:    map[string]ChannelHealth{},
	}
}

const authRequiredMessage = "Authentication required. Run `nxclaw auth` to connect a provider."

// HandleIncoming is the runtime's single public entry point for turning an
// inbound channel message into a reply (spec §4.6).
func (o *Orchestrator) HandleIncoming(ctx context.Context, in Incoming, text string) string {
	ctx, span := otelx.StartIncomingSpan(ctx, o.deps.Tracer, in.SessionID, in.Source)
	defer span.End()

	if o.deps.Auth != nil && !o.deps.Auth.IsAuthenticated() {
		return authRequiredMessage
	}

	safeIn := Incoming{
		Source:    sanitizeIdentifier(orDefault(in.Source, "unknown")),
		ChannelID: sanitizeIdentifier(in.ChannelID),
		UserID:    sanitizeIdentifier(in.UserID),
		SessionID: sanitizeIdentifier(in.SessionID),
	}
	laneKey := agentsvc.LaneKey(safeIn.Source, safeIn.ChannelID, safeIn.SessionID)

	if o.deps.Sanitizer != nil {
		if err := o.deps.Sanitizer.Check(text).MustAllow(); err != nil {
			o.deps.Logger.Warn("runtime: input blocked by safety filter", "laneKey", laneKey, "error", err)
			return fmt.Sprintf("I can't act on that message: %s", err)
		}
	}

	if o.cfg.MaxQueueDepth > 0 && o.deps.Queue.Depth() >= o.cfg.MaxQueueDepth {
		depth := o.deps.Queue.Depth()
		err := fmt.Errorf("%w: depth %d exceeds limit %d", ErrQueueSaturated, depth, o.cfg.MaxQueueDepth)
		o.deps.Logger.Warn("runtime: queue backpressure applied", "depth", depth, "max", o.cfg.MaxQueueDepth)
		return fmt.Sprintf("Runtime error: %s", err.Error())
	}

	o.setBusy(true)
	defer o.setBusy(false)

	out, err := o.deps.Queue.Enqueue(ctx, laneKey, func(ctx context.Context) (string, error) {
		return o.runTurn(ctx, laneKey, safeIn, text)
	})
	if err != nil {
		var qf laneq.ErrQueueFull
		if isQueueFull(err, &qf) {
			return fmt.Sprintf("Runtime error: queue full (%d/%d)", qf.Depth, qf.Max)
		}
		return fmt.Sprintf("Runtime error: %s", err.Error())
	}
	return out
}

func isQueueFull(err error, target *laneq.ErrQueueFull) bool {
	if qf, ok := err.(laneq.ErrQueueFull); ok {
		*target = qf
		return true
	}
	return false
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// runTurn is the body run inside the lane queue's serialized fn for one
// lane key (spec §4.6 step 4 a-g).
func (o *Orchestrator) runTurn(ctx context.Context, laneKey string, in Incoming, text string) (string, error) {
	traceID := shared.NewTraceID()
	ctx = shared.WithTraceID(ctx, traceID)
	ctx = shared.WithLaneKey(ctx, laneKey)

	sess, err := o.deps.Sessions.Acquire(in.Source, in.ChannelID, in.SessionID, func(laneKey string) (interface{}, error) {
		return o.deps.NewBrain(laneKey)
	})
	if err != nil {
		return "", fmt.Errorf("acquire session: %w", err)
	}
	defer o.deps.Sessions.Release(laneKey)

	brain, ok := sess.Brain.(Brain)
	if !ok || brain == nil {
		return "", fmt.Errorf("lane %s: session has no usable brain", laneKey)
	}

	sessionKey := in.SessionID
	if sessionKey == "" {
		sessionKey = sess.SessionID
	}

	if o.deps.Memory != nil {
		if _, _, err := o.deps.Memory.RememberTurn("user", in.Source, sessionKey, text); err != nil {
			o.deps.Logger.Warn("runtime: remember user turn failed", "laneKey", laneKey, "error", err)
		}
	}

	prompt := o.buildPrompt(ctx, laneKey, in, sessionKey, text)

	reply, err := o.promptWithRetry(ctx, brain, sess.SessionID, prompt)
	if err != nil {
		return "", err
	}

	if o.deps.Memory != nil {
		if _, _, err := o.deps.Memory.RememberTurn("assistant", in.Source, sessionKey, reply); err != nil {
			o.deps.Logger.Warn("runtime: remember assistant turn failed", "laneKey", laneKey, "error", err)
		}
		if o.deps.Memory.MatchesImportance(reply) {
			if err := o.deps.Memory.WriteSoul(memstore.SoulAppend, reply, true); err != nil {
				o.deps.Logger.Warn("runtime: soul journal mirror failed", "laneKey", laneKey, "error", err)
			}
		}
		if o.deps.Memory.RawCount() >= 120 {
			if _, err := o.deps.Memory.MaybeCompact(ctx); err != nil {
				o.deps.Logger.Warn("runtime: threshold compaction failed", "laneKey", laneKey, "error", err)
			}
		}
	}

	o.deps.Sessions.RecordMessage(laneKey)
	o.persistState()

	return reply, nil
}

// promptWithRetry runs session.prompt with the configured timeout,
// classifying context-overflow errors and driving up to
// MaxOverflowCompactionAttempts compaction cycles before falling back to
// plain retries (spec §4.6 step f).
func (o *Orchestrator) promptWithRetry(ctx context.Context, brain Brain, sessionID, prompt string) (string, error) {
	var lastErr error
	overflowAttempts := 0

	for attempt := 1; attempt <= o.cfg.MaxPromptRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.PromptTimeoutMs)*time.Millisecond)
		reply, err := brain.Prompt(callCtx, sessionID, prompt)
		cancel()
		if err == nil {
			return reply, nil
		}
		lastErr = err

		if isOverflowError(err) && overflowAttempts < o.cfg.MaxOverflowCompactionAttempts {
			overflowAttempts++
			// Only the first overflow compacts memory; later cycles fall
			// through straight to the prompt truncation fallback instead of
			// paying for a second compaction pass.
			if overflowAttempts == 1 {
				o.deps.Logger.Warn("runtime: context overflow, compacting", "attempt", overflowAttempts, "sessionId", sessionID)
				if o.deps.Memory != nil {
					if _, cErr := o.deps.Memory.Compact(ctx); cErr != nil {
						o.deps.Logger.Warn("runtime: overflow compaction failed", "error", cErr)
					}
				}
			} else {
				o.deps.Logger.Warn("runtime: context overflow, truncating prompt", "attempt", overflowAttempts, "sessionId", sessionID)
			}
			prompt = truncatePromptFallback(prompt, overflowAttempts, o.cfg.MaxOverflowCompactionAttempts)
			continue
		}
		o.deps.Logger.Warn("runtime: prompt attempt failed", "attempt", attempt, "error", err)
	}
	return "", fmt.Errorf("prompt failed after %d attempts: %w", o.cfg.MaxPromptRetries, lastErr)
}

// truncatePromptFallback is the last-resort path in spec §4.6 step f: once
// memory compaction alone hasn't resolved an overflow, shrink the prompt
// itself by keeping only its head and tail.
func truncatePromptFallback(prompt string, attempt, maxAttempts int) string {
	if attempt < maxAttempts {
		return prompt
	}
	lines := strings.Split(prompt, "\n")
	if len(lines) <= 10 {
		return prompt
	}
	head := lines[:2]
	tail := lines[len(lines)-8:]
	out := append(append([]string{}, head...), "…(history truncated)…")
	out = append(out, tail...)
	return strings.Join(out, "\n")
}

func (o *Orchestrator) buildPrompt(ctx context.Context, laneKey string, in Incoming, sessionKey, text string) string {
	var working memstore.WorkingMemory
	var memHits []memstore.SearchHit
	var objList []*objectives.Objective
	var running []*tasks.Task
	var queued []tasks.QueuePreview
	var skills []string

	if o.deps.Memory != nil {
		working = o.deps.Memory.WorkingMemoryContext()
		if hits, err := o.deps.Memory.Search(ctx, text, 5, memstore.SearchOptions{SessionKey: sessionKey, Mode: memstore.ModeSessionStrict}); err == nil {
			memHits = hits
		} else {
			o.deps.Logger.Warn("runtime: memory search failed", "laneKey", laneKey, "error", err)
		}
	}
	if o.deps.Objectives != nil {
		objList = append(objList, o.deps.Objectives.List("")...)
	}
	if o.deps.Tasks != nil {
		running = o.deps.Tasks.List(false)
		queued = o.deps.Tasks.GetQueueSnapshot(10)
	}
	if o.deps.SkillPreviews != nil {
		skills = o.deps.SkillPreviews()
	}
	soul := ""
	if o.deps.SoulSummary != nil {
		soul = o.deps.SoulSummary()
	}

	core := o.coreContext(coreContextInputs{soul: soul, working: working, tools: o.deps.ToolsSummary})

	preamble := fmt.Sprintf("source=%s channel=%s session=%s queueDepth=%d",
		in.Source, in.ChannelID, sessionKey, o.deps.Queue.Depth())

	p := composedPrompt{
		Preamble:      preamble,
		CoreContext:   core,
		Objectives:    summarizeObjectives(objList, 10),
		Tasks:         summarizeTasks(running, queued, 10),
		MemoryMatches: summarizeMemoryHits(memHits, 5),
		WorkingMemory: working,
		Skills:        summarizeSkills(skills),
		Rules:         defaultBehaviouralRules,
		UserText:      text,
	}
	rendered := p.String()
	o.deps.Logger.Debug("runtime: prompt built", "laneKey", laneKey, "estimatedTokens", tokenutil.EstimateTokens(rendered))
	return rendered
}

// persistState writes the dashboard snapshot after each successful turn
// (spec §4.6 step g: "persist a dashboard snapshot").
func (o *Orchestrator) persistState() {
	if o.deps.HomeDir == "" {
		return
	}
	snap := o.GetState(false, false)
	path := filepath.Join(o.deps.HomeDir, "state", "dashboard.json")
	if err := fsutil.WriteJSONAtomic(path, snap); err != nil {
		o.deps.Logger.Warn("runtime: persist dashboard snapshot failed", "error", err)
	}
}

func (o *Orchestrator) setBusy(v bool) {
	o.busyMu.Lock()
	o.busy = v
	o.busyMu.Unlock()
}

// Busy reports whether a handleIncoming call is currently in flight; the
// autonomous loop skips a tick while the runtime is busy (spec §4.7).
func (o *Orchestrator) Busy() bool {
	o.busyMu.Lock()
	defer o.busyMu.Unlock()
	return o.busy
}

// QueueDepth exposes the lane queue's current depth for pressure gating.
func (o *Orchestrator) QueueDepth() int {
	return o.deps.Queue.Depth()
}

// TaskHealth exposes the task manager's health for pressure gating.
func (o *Orchestrator) TaskHealth() tasks.Health {
	if o.deps.Tasks == nil {
		return tasks.Health{}
	}
	return o.deps.Tasks.GetHealth()
}

// Objectives exposes the objective store for the autonomous loop.
func (o *Orchestrator) ObjectivesStore() *objectives.Store {
	return o.deps.Objectives
}

// Chrome exposes the browser controller to tool implementations that need
// to gate calls behind AuditGate before invoking it.
func (o *Orchestrator) Chrome() *chromectl.Controller {
	return o.deps.Chrome
}

// Policy exposes the capability checker to tool implementations.
func (o *Orchestrator) Policy() policy.Checker {
	return o.deps.Policy
}

// TaskManager exposes the background task manager to tool implementations.
func (o *Orchestrator) TaskManager() *tasks.Manager {
	return o.deps.Tasks
}

// AuditGate checks capability policy before a tool call and records the
// decision to the audit trail (spec §12 items 2-3), used by tool
// implementations that wrap tasks/chromectl/memstore operations.
func AuditGate(pol policy.Checker, capability, reason string) error {
	allowed := pol == nil || pol.AllowCapability(capability)
	version := ""
	if pol != nil {
		version = pol.PolicyVersion()
	}
	if allowed {
		audit.Record("allow", capability, reason, version, "")
		return nil
	}
	audit.Record("deny", capability, reason, version, "")
	return fmt.Errorf("policy: capability %q denied", capability)
}
