// Package sandbox implements the sandboxed script executor: validate →
// build sandbox → marshal input → run under governor → marshal output
// → return. It is the public surface of this module; sandbox/bag,
// sandbox/validator, sandbox/luavm, sandbox/marshal,
// sandbox/toolmediator and sandbox/governor are its leaves.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/scriptexec/sandbox/bag"
	"github.com/BaSui01/scriptexec/sandbox/governor"
	"github.com/BaSui01/scriptexec/sandbox/luavm"
	"github.com/BaSui01/scriptexec/sandbox/marshal"
	"github.com/BaSui01/scriptexec/sandbox/toolmediator"
	"github.com/BaSui01/scriptexec/sandbox/validator"
	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"
	"github.com/zeebo/blake3"
)

// Options overrides the process-wide defaults for a single call.
type Options struct {
	TimeoutMs   int
	MemoryBytes int64

	// Hooks is an optional, in-flight-only observer of this call's tool
	// invocations, used by the HTTP streaming endpoint to relay
	// tool_call/tool_result events to one connected client; it is never
	// persisted and never shared across calls, so concurrent Execute
	// calls never race on it.
	Hooks Hooks
}

// Hooks lets a caller observe a single call's in-flight tool
// invocations without the executor knowing anything about its caller.
type Hooks struct {
	OnToolCall   func(execID, tool string)
	OnToolResult func(execID, tool, result string)
}

// Executor ties together the validator, sandbox builder, tool mediator,
// and governor under one process-wide configuration: only the
// allowlist and the HTTP client are process-wide, everything else is
// built fresh per call.
type Executor struct {
	validator     *validator.Validator
	mediator      *toolmediator.Mediator
	defaultLimits governor.Limits
}

// Config configures an Executor.
type Config struct {
	MaxScriptTokens int
	Tools           toolmediator.Config
	DefaultLimits   governor.Limits
}

// New constructs an Executor sharing one Validator and one Mediator
// (and therefore one pooled HTTP client) across every call.
func New(cfg Config) *Executor {
	limits := cfg.DefaultLimits
	if limits.Timeout == 0 {
		limits = governor.DefaultLimits()
	}
	return &Executor{
		validator:     validator.New(validator.Options{MaxScriptTokens: cfg.MaxScriptTokens}),
		mediator:      toolmediator.New(cfg.Tools),
		defaultLimits: limits,
	}
}

// Validate runs the static pre-screen without executing the script.
func (e *Executor) Validate(source string) error {
	res := e.validator.Validate(source)
	if res.OK {
		return nil
	}
	if res.Kind == "MissingEntry" {
		return newError(KindMissingEntry, "%s", res.Reason)
	}
	return newError(KindDangerousConstruct, "%s", res.Reason)
}

// Execute runs one script to completion: validate → build → load →
// marshal-in → run-bounded → marshal-out.
func (e *Executor) Execute(ctx context.Context, source string, input bag.Value, opts Options) (bag.Value, error) {
	execID := uuid.NewString()

	// 1. validated?
	if err := e.Validate(source); err != nil {
		return bag.NullValue(), err
	}

	// 2. sandbox_built?
	L, err := luavm.Build(e.mediator.Install)
	if err != nil {
		return bag.NullValue(), wrapError(KindSandboxBuildFailed, err)
	}
	// Ownership of L transfers to the governor's worker goroutine once
	// run_bounded starts (see below): on timeout/memory-exceeded that
	// goroutine is abandoned while still inside L.PCall, so closing L
	// from this goroutine the instant governor.Run returns would race
	// the still-running VM. handedOff guards against double-closing.
	handedOff := false
	defer func() {
		if !handedOff {
			L.Close()
		}
	}()

	// 3. source_loaded?
	fn, err := L.LoadString(source)
	if err != nil {
		return bag.NullValue(), wrapError(KindLoadFailed, err)
	}

	// 4. input_marshalled? — ToInterp is total over bag.Value, so this
	// step cannot fail in this backend; the state machine's decision
	// point collapses to a straight-line call.
	argValue := marshal.ToInterp(input.DeepCopy(), L)

	// 5. run_bounded
	limits := e.limitsFor(opts)
	hookCtx := toolmediator.WithHooks(ctx, toolmediator.Hooks{
		OnCall: func(tool string) {
			if opts.Hooks.OnToolCall != nil {
				opts.Hooks.OnToolCall(execID, tool)
			}
		},
		OnResult: func(tool, result string) {
			if opts.Hooks.OnToolResult != nil {
				opts.Hooks.OnToolResult(execID, tool, result)
			}
		},
	})
	handedOff = true
	result := governor.Run(hookCtx, limits, func(rctx context.Context) (lua.LValue, error) {
		defer L.Close()
		L.SetContext(rctx)
		// Run the chunk so its top-level declarations (the run function)
		// exist, then call the run entry point with the context.
		L.Push(fn)
		if err := L.PCall(0, 0, nil); err != nil {
			return nil, err
		}
		L.Push(L.GetGlobal("run"))
		L.Push(argValue)
		if err := L.PCall(1, 1, nil); err != nil {
			return nil, err
		}
		ret := L.Get(-1)
		L.Pop(1)
		return ret, nil
	})

	switch result.Outcome {
	case governor.OutcomeTimeout:
		return bag.NullValue(), ErrTimeout
	case governor.OutcomeMemoryExceeded:
		return bag.NullValue(), wrapError(KindMemoryExceeded, result.Err)
	case governor.OutcomeRuntimeError:
		return bag.NullValue(), wrapError(KindRuntimeError, result.Err)
	}

	// 6. output_marshalled?
	switch result.Value.Type() {
	case lua.LTFunction, lua.LTUserData, lua.LTThread:
		return bag.NullValue(), newError(KindConvertFailed, "entry returned a non-marshallable value of type %s", result.Value.Type())
	}
	out := marshal.FromInterp(result.Value, marshal.NewVisited())
	return out, nil
}

func (e *Executor) limitsFor(opts Options) governor.Limits {
	limits := e.defaultLimits
	if opts.TimeoutMs > 0 {
		limits.Timeout = time.Duration(opts.TimeoutMs) * time.Millisecond
	}
	if opts.MemoryBytes > 0 {
		limits.MemoryBytes = opts.MemoryBytes
	}
	return limits
}

// ExecutionID and SourceDigest are small correlation helpers exposed so
// the HTTP layer can tag its own log lines without duplicating
// uuid/blake3 wiring. ExecutionID returns a fresh UUID on every call; it
// is not the ID Execute assigns internally and passes to Hooks.
func ExecutionID() string { return uuid.NewString() }

func SourceDigest(source string) string {
	sum := blake3.Sum256([]byte(source))
	return fmt.Sprintf("%x", sum[:8])
}
