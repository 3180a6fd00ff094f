package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/scripthost/pkg/domain"
)

// Chain combines hook sets. Each event is delivered to every non-nil hook in order.
func Chain(hooks ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks

	var state []func(context.Context, *domain.StateEvent)
	var start, complete, failed []func(context.Context, *domain.ScriptEvent)
	for _, h := range hooks {
		if h.OnStateChange != nil {
			state = append(state, h.OnStateChange)
		}
		if h.OnScriptStart != nil {
			start = append(start, h.OnScriptStart)
		}
		if h.OnScriptComplete != nil {
			complete = append(complete, h.OnScriptComplete)
		}
		if h.OnScriptError != nil {
			failed = append(failed, h.OnScriptError)
		}
	}

	if len(state) > 0 {
		out.OnStateChange = func(ctx context.Context, e *domain.StateEvent) {
			for _, fn := range state {
				fn(ctx, e)
			}
		}
	}
	out.OnScriptStart = fanOut(start)
	out.OnScriptComplete = fanOut(complete)
	out.OnScriptError = fanOut(failed)
	return out
}

func fanOut(fns []func(context.Context, *domain.ScriptEvent)) func(context.Context, *domain.ScriptEvent) {
	if len(fns) == 0 {
		return nil
	}
	return func(ctx context.Context, e *domain.ScriptEvent) {
		for _, fn := range fns {
			fn(ctx, e)
		}
	}
}

// LoggingHooks writes every lifecycle event to logger at Debug, and failed passes at Warn.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStateChange: func(ctx context.Context, e *domain.StateEvent) {
			logger.DebugContext(ctx, "state_change", "session", e.Session, "from", e.From, "to", e.To)
		},
		OnScriptStart: func(ctx context.Context, e *domain.ScriptEvent) {
			logger.DebugContext(ctx, "script_start", "session", e.Session, "script", e.Script, "state", e.State)
		},
		OnScriptComplete: func(ctx context.Context, e *domain.ScriptEvent) {
			logger.DebugContext(ctx, "script_complete", "session", e.Session, "duration", e.Duration)
		},
		OnScriptError: func(ctx context.Context, e *domain.ScriptEvent) {
			logger.WarnContext(ctx, "script_error", "session", e.Session, "duration", e.Duration, "err", e.Err)
		},
	}
}
