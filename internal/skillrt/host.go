package skillrt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
)

const (
	DefaultMemoryLimitPages = 160 // 160 * 64KB = 10MB per module
	DefaultInvokeTimeout    = 30 * time.Second
)

// Fault reason codes for skill invocations, grounded on
// sandbox/wasm/host.go's deterministic fault taxonomy.
const (
	FaultModuleNotFound = "WASM_MODULE_NOT_FOUND"
	FaultTimeout        = "WASM_TIMEOUT"
	FaultNoExport       = "WASM_NO_EXPORT"
	FaultExecError      = "WASM_FAULT"
)

// Fault is a structured error emitted by skill invocations.
type Fault struct {
	Reason string
	Module string
	Detail string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: module=%s: %s", f.Reason, f.Module, f.Detail)
}

// HostConfig bounds a Host's resource limits.
type HostConfig struct {
	Logger           *slog.Logger
	MemoryLimitPages uint32
	InvokeTimeout    time.Duration
}

// Host runs skill WASM modules in a wazero sandbox: no filesystem or network
// access beyond the single host.log function, no ambient host imports.
type Host struct {
	logger        *slog.Logger
	runtime       wazero.Runtime
	invokeTimeout time.Duration

	mu      sync.Mutex
	modules map[string]api.Module
}

// NewHost builds a Host with a fresh wazero runtime and registers the
// minimal "host" module (currently just host.log) skill code may import.
func NewHost(ctx context.Context, cfg HostConfig) (*Host, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	memPages := cfg.MemoryLimitPages
	if memPages == 0 {
		memPages = DefaultMemoryLimitPages
	}
	invokeTimeout := cfg.InvokeTimeout
	if invokeTimeout == 0 {
		invokeTimeout = DefaultInvokeTimeout
	}

	runtimeCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(memPages).
		WithCloseOnContextDone(true)

	h := &Host{
		logger:        cfg.Logger,
		runtime:       wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		invokeTimeout: invokeTimeout,
		modules:       map[string]api.Module{},
	}

	builder := h.runtime.NewHostModuleBuilder("host")
	builder.NewFunctionBuilder().WithFunc(h.hostLog).Export("host.log")
	if _, err := builder.Instantiate(ctx); err != nil {
		return nil, fmt.Errorf("skillrt: instantiate host module: %w", err)
	}
	return h, nil
}

func (h *Host) hostLog(_ context.Context, mod api.Module, ptr, length uint32) {
	buf, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return
	}
	h.logger.Info("skill log", "module", mod.Name(), "message", string(buf))
}

// LoadModule compiles and instantiates a skill's WASM bytes under name,
// replacing any prior module registered under the same name.
func (h *Host) LoadModule(ctx context.Context, name string, wasmBytes []byte) error {
	compiled, err := h.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return fmt.Errorf("skillrt: compile module %s: %w", name, err)
	}
	mod, err := h.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return fmt.Errorf("skillrt: instantiate module %s: %w", name, err)
	}

	h.mu.Lock()
	if old, ok := h.modules[name]; ok {
		_ = old.Close(ctx)
	}
	h.modules[name] = mod
	h.mu.Unlock()
	return nil
}

// HasModule reports whether name is currently loaded.
func (h *Host) HasModule(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.modules[name]
	return ok
}

// Unload closes and forgets a module.
func (h *Host) Unload(ctx context.Context, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if mod, ok := h.modules[name]; ok {
		_ = mod.Close(ctx)
		delete(h.modules, name)
	}
}

// Invoke calls the first of run/main/Run exported by name, bounded by the
// Host's invocation timeout.
func (h *Host) Invoke(ctx context.Context, name string) (int64, error) {
	h.mu.Lock()
	mod, ok := h.modules[name]
	h.mu.Unlock()
	if !ok {
		return 0, &Fault{Reason: FaultModuleNotFound, Module: name, Detail: "module not loaded"}
	}

	invokeCtx, cancel := context.WithTimeout(ctx, h.invokeTimeout)
	defer cancel()

	for _, fnName := range []string{"run", "main", "Run"} {
		fn := mod.ExportedFunction(fnName)
		if fn == nil {
			continue
		}
		results, err := fn.Call(invokeCtx)
		if err != nil {
			return 0, classifyFault(name, err)
		}
		if len(results) == 0 {
			return 0, nil
		}
		return int64(results[0]), nil
	}
	return 0, &Fault{Reason: FaultNoExport, Module: name, Detail: "no callable run/main export found"}
}

func classifyFault(module string, err error) *Fault {
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		return &Fault{Reason: FaultExecError, Module: module, Detail: err.Error()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Fault{Reason: FaultTimeout, Module: module, Detail: "invocation exceeded time limit"}
	}
	return &Fault{Reason: FaultExecError, Module: module, Detail: err.Error()}
}

// Close tears down every loaded module and the runtime itself.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	for name, mod := range h.modules {
		_ = mod.Close(ctx)
		delete(h.modules, name)
	}
	h.mu.Unlock()
	return h.runtime.Close(ctx)
}
