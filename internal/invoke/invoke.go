// Package invoke executes tool calls against the registry and
// normalizes every outcome, including panics and timeouts, into a
// single Observation shape the agent loop can fold back into the
// conversation.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opsforge/opsforge/agent-plane/internal/registry"
	"github.com/opsforge/opsforge/agent-plane/pkg/models"
)

// Invoker resolves tool calls against a registry and runs them.
type Invoker struct {
	registry *registry.Registry
}

// New creates an invoker backed by the given registry.
func New(reg *registry.Registry) *Invoker {
	return &Invoker{registry: reg}
}

type outcome struct {
	out *models.ToolOutput
	err error
}

// Invoke runs one tool call and always returns an observation, never
// an error. Checks are applied in order: unknown tool, invalid
// arguments, then execution. Execution failures, panics included, are
// normalized to error observations. A timeout of zero or less means
// the call is bounded only by ctx.
func (inv *Invoker) Invoke(ctx context.Context, call models.ToolCall, timeout time.Duration) models.Observation {
	tool, err := inv.registry.Lookup(call.Name)
	if err != nil {
		log.Warn().Str("tool", call.Name).Msg("Tool call names an unregistered tool")
		return errorObservation(models.ErrKindUnknownTool, err.Error())
	}

	if err := validateArguments(tool.Schema, call.Arguments); err != nil {
		log.Warn().Str("tool", call.Name).Err(err).Msg("Tool call arguments rejected")
		return errorObservation(models.ErrKindInvalidArguments,
			fmt.Sprintf("invalid arguments for %q: %v", call.Name, err))
	}

	tctx := ctx
	cancel := func() {}
	if timeout > 0 {
		tctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	// Arguments are copied so handlers cannot mutate the caller's map.
	args := make(map[string]any, len(call.Arguments))
	maps.Copy(args, call.Arguments)

	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("tool %q panicked: %v", call.Name, r)}
			}
		}()
		out, err := tool.Handler(tctx, args)
		ch <- outcome{out: out, err: err}
	}()

	started := time.Now()
	select {
	case res := <-ch:
		if res.err != nil {
			log.Warn().Str("tool", call.Name).Err(res.err).Msg("Tool execution failed")
			return errorObservation(models.ErrKindToolExecution, res.err.Error())
		}
		obs := models.Observation{OK: true}
		if res.out != nil {
			obs.Value = res.out.Value
			obs.ArtifactRefs = res.out.ArtifactRefs
		}
		log.Debug().
			Str("tool", call.Name).
			Dur("duration", time.Since(started)).
			Msg("Tool executed")
		return obs

	case <-tctx.Done():
		// The handler goroutine is abandoned here; it exits on its own
		// once it honors tctx cancellation.
		if errors.Is(tctx.Err(), context.Canceled) {
			return errorObservation(models.ErrKindToolExecution,
				fmt.Sprintf("tool %q aborted: %v", call.Name, tctx.Err()))
		}
		log.Warn().Str("tool", call.Name).Dur("timeout", timeout).Msg("Tool timed out")
		return errorObservation(models.ErrKindTimeout,
			fmt.Sprintf("tool %q timed out after %s", call.Name, timeout))
	}
}

func errorObservation(kind models.ErrorKind, message string) models.Observation {
	return models.Observation{
		OK:        false,
		ErrorKind: kind,
		Message:   message,
	}
}
