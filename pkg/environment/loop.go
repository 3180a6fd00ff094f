package environment

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aretw0/scripthost/pkg/domain"
)

func (e *Environment) loop(ctx context.Context) error {
	defer e.active.Store(false)

	err := e.prepare()
	e.logger.Debug("loop starting", "script", e.Script(), "mode", e.cfg.Mode)

	for e.step(ctx) {
		if e.cfg.Mode == domain.ModeWorker && !e.sleep(ctx) {
			break
		}
	}

	// Terminate is consumed by the exit it caused.
	e.consume(domain.IntentTerminate)
	e.settle(ctx, err != nil)
	e.logger.Debug("loop finished", "passes", e.Passes())
	return err
}

// settle applies a Stop that halted a synchronous loop, so the next ExecuteScript
// starts from Idle instead of observing a stale stop intent. A loop that could not
// load its script drops every transition request it was started with.
func (e *Environment) settle(ctx context.Context, fatal bool) {
	pending := e.Pending()
	if fatal {
		e.consume(pending & domain.IntentTransitions)
		return
	}
	if e.cfg.Mode != domain.ModeSynchronous {
		return
	}
	if !pending.Has(domain.IntentStop) {
		return
	}
	if from := e.State(); from != domain.StateIdle {
		e.transition(ctx, from, domain.StateIdle)
	}
	e.consume(pending & domain.IntentTransitions)
}

// prepare reads the script once at loop entry. An unreadable script forces termination.
func (e *Environment) prepare() error {
	script := e.Script()
	src, err := os.ReadFile(script)
	if err != nil {
		e.report(fmt.Sprintf("ERROR: failed to open script %s: %v", script, err))
		e.raise(domain.IntentTerminate)
		e.source = nil
		return fmt.Errorf("%w: %s: %v", domain.ErrScriptFileUnavailable, script, err)
	}
	e.source = src
	return nil
}

// step evaluates the transition function once. It returns false when the loop must exit.
func (e *Environment) step(ctx context.Context) bool {
	if e.halt.Load() || ctx.Err() != nil {
		return false
	}

	observed := e.Pending()
	if observed.Has(domain.IntentTerminate) {
		return false
	}

	from := e.State()
	to := from
	if observed.Has(domain.IntentRun) {
		to = domain.StateRunning
	}
	if observed.Has(domain.IntentRepeat) {
		to = domain.StateRepeating
	}
	if observed.Has(domain.IntentStop) {
		to = domain.StateIdle
	}
	if to != from {
		e.transition(ctx, from, to)
	}

	switch to {
	case domain.StateIdle:
		e.consume(observed & domain.IntentTransitions)

	case domain.StateRunning:
		if observed.Has(domain.IntentRun) {
			e.consume(domain.IntentRun)
			e.pass(ctx, to)
		}

	case domain.StateRepeating:
		e.pass(ctx, to)
	}
	return true
}

func (e *Environment) transition(ctx context.Context, from, to domain.RunState) {
	e.state.Store(int32(to))
	e.logger.Debug("state change", "from", from, "to", to)
	if e.cfg.Hooks.OnStateChange != nil {
		e.cfg.Hooks.OnStateChange(ctx, &domain.StateEvent{
			EventBase: domain.EventBase{
				Timestamp: time.Now(),
				Type:      domain.EventStateChange,
				Session:   e.cfg.Name,
			},
			From: from,
			To:   to,
		})
	}
}

// pass executes the script once and notifies the owner.
func (e *Environment) pass(ctx context.Context, state domain.RunState) {
	passCtx, cancel := context.WithCancel(ctx)
	e.passMu.Lock()
	e.cancelPass = cancel
	e.passMu.Unlock()
	defer func() {
		e.passMu.Lock()
		e.cancelPass = nil
		e.passMu.Unlock()
		cancel()
	}()

	// A kill that landed before the cancel func was published must still win.
	if e.halt.Load() {
		return
	}

	script := e.Script()
	event := &domain.ScriptEvent{
		EventBase: domain.EventBase{
			Timestamp: time.Now(),
			Type:      domain.EventScriptStart,
			Session:   e.cfg.Name,
		},
		Script: script,
		State:  state,
	}
	if e.cfg.Hooks.OnScriptStart != nil {
		e.cfg.Hooks.OnScriptStart(ctx, event)
	}

	e.logger.Debug("executing script", "script", script, "state", state)
	start := time.Now()

	e.vm.Lock()
	var err error
	if e.interp == nil {
		err = domain.ErrNotInitialized
	} else {
		err = e.interp.ExecuteSource(passCtx, bytes.NewReader(e.source), script)
	}
	e.vm.Unlock()

	e.passes.Add(1)
	done := *event
	done.Timestamp = time.Now()
	done.Duration = time.Since(start)

	if err != nil {
		done.Type = domain.EventScriptError
		done.Err = err
		e.report(fmt.Sprintf("ERROR: script %s failed: %v", script, err))
		if e.cfg.Hooks.OnScriptError != nil {
			e.cfg.Hooks.OnScriptError(ctx, &done)
		}
	} else {
		done.Type = domain.EventScriptComplete
		if e.cfg.Hooks.OnScriptComplete != nil {
			e.cfg.Hooks.OnScriptComplete(ctx, &done)
		}
	}

	e.notifyComplete()
}

// sleep suspends the worker for one poll interval. It returns false if ctx ended.
func (e *Environment) sleep(ctx context.Context) bool {
	timer := time.NewTimer(time.Duration(e.poll.Load()))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-e.wake:
		return true
	case <-timer.C:
		return true
	}
}

func (e *Environment) notifyComplete() {
	owner, token := e.credentials()
	if owner == nil {
		return
	}
	if err := owner.ScriptComplete(token); err != nil {
		e.logger.Warn("owner rejected completion notice", "err", err)
	}
}

// report sends a line to the owner's log sink, falling back to the structured logger.
func (e *Environment) report(message string) {
	owner, token := e.credentials()
	if owner == nil {
		e.logger.Error(message)
		return
	}
	if err := owner.LogMessage(token, message); err != nil {
		e.logger.Error(message, "log_err", err)
	}
}
