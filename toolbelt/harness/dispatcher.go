package harness

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/sourcegraph/conc/pool"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
	"github.com/toolbelt-ai/agent-toolbelt/toolbelt/sandbox"
)

// DispatchPolicy controls dispatch behavior.
type DispatchPolicy struct {
	MaxConcurrent int           // upper bound on simultaneous tool calls
	CallTimeout   time.Duration // per-attempt timeout
	RetryCount    int           // extra attempts for retryable failures
	RetryBackoff  time.Duration // delay between attempts
}

// DefaultDispatchPolicy returns sensible defaults.
func DefaultDispatchPolicy() *DispatchPolicy {
	return &DispatchPolicy{
		MaxConcurrent: 4,
		CallTimeout:   30 * time.Second,
		RetryCount:    1,
		RetryBackoff:  250 * time.Millisecond,
	}
}

// Dispatcher routes tool calls to registered handlers. It never returns an
// error from Dispatch: every failure, including a panicking handler, is
// folded into the result's Error field so the calling loop keeps running.
type Dispatcher struct {
	registry   *Registry
	guardrails *Guardrails
	policy     *DispatchPolicy
	audit      ports.AuditStore
	tracer     ports.Tracer
	logger     zerolog.Logger
}

// NewDispatcher creates a dispatcher with dependencies.
func NewDispatcher(
	registry *Registry,
	guardrails *Guardrails,
	policy *DispatchPolicy,
	audit ports.AuditStore,
	tracer ports.Tracer,
	logger zerolog.Logger,
) *Dispatcher {
	if policy == nil {
		policy = DefaultDispatchPolicy()
	}
	return &Dispatcher{
		registry:   registry,
		guardrails: guardrails,
		policy:     policy,
		audit:      audit,
		tracer:     tracer,
		logger:     logger,
	}
}

// Dispatch executes a single tool call to completion. The returned result
// always carries the request's call ID; a missing ID is backfilled so the
// caller can still correlate.
func (d *Dispatcher) Dispatch(ctx context.Context, req ports.ToolCallRequest) ports.ToolCallResult {
	if req.CallID == "" {
		req.CallID = uuid.NewString()
	}
	start := time.Now()

	ctx, finish := d.tracer.StartSpan(ctx, "dispatch", map[string]any{
		"call_id": req.CallID,
		"tool":    req.Tool,
	})

	out, err := d.execute(ctx, req)
	finish(err)

	result := ports.ToolCallResult{
		CallID:  req.CallID,
		Elapsed: time.Since(start),
	}
	if err != nil {
		te, masked := classify(err)
		if masked {
			d.logger.Error().
				Str("call_id", req.CallID).
				Str("tool", req.Tool).
				Err(err).
				Msg("tool call failed with unclassified error")
		}
		result.Error = te
		d.logger.Debug().
			Str("call_id", req.CallID).
			Str("tool", req.Tool).
			Str("kind", string(te.Kind)).
			Dur("elapsed", result.Elapsed).
			Msg("tool call failed")
	} else {
		result.Success = true
		result.Output = out
		d.logger.Debug().
			Str("call_id", req.CallID).
			Str("tool", req.Tool).
			Dur("elapsed", result.Elapsed).
			Msg("tool call succeeded")
	}

	d.recordAudit(ctx, req, result)
	return result
}

// DispatchAll executes a batch of tool calls with bounded concurrency.
// Results line up with requests by index; one failing call never disturbs
// its siblings.
func (d *Dispatcher) DispatchAll(ctx context.Context, reqs []ports.ToolCallRequest) []ports.ToolCallResult {
	if len(reqs) == 0 {
		return nil
	}

	limit := d.policy.MaxConcurrent
	if limit < 1 {
		limit = 1
	}

	results := make([]ports.ToolCallResult, len(reqs))
	p := pool.New().WithMaxGoroutines(limit)
	for i, req := range reqs {
		p.Go(func() {
			results[i] = d.Dispatch(ctx, req)
		})
	}
	p.Wait()

	return results
}

// execute runs lookup, validation, and the invoke-with-retry cycle.
func (d *Dispatcher) execute(ctx context.Context, req ports.ToolCallRequest) (any, error) {
	tool, err := d.registry.Get(req.Tool)
	if err != nil {
		return nil, err
	}
	if err := d.guardrails.ValidateCall(tool.Spec(), req); err != nil {
		return nil, err
	}

	retries := d.policy.RetryCount
	if retries < 0 {
		retries = 0
	}
	delay := d.policy.RetryBackoff
	if delay <= 0 {
		delay = time.Millisecond // NewConstant rejects non-positive delays
	}

	var out any
	backoff := retry.WithMaxRetries(uint64(retries), retry.NewConstant(delay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var attemptErr error
		out, attemptErr = d.invokeOnce(ctx, tool, req.Args)
		if attemptErr == nil {
			return nil
		}
		if te, _ := classify(attemptErr); te.Retryable {
			return retry.RetryableError(attemptErr)
		}
		return attemptErr
	})
	return out, err
}

// invokeOnce calls the handler under the per-attempt timeout and converts a
// panic into an internal error. The panic value is logged here; the result
// message stays opaque.
func (d *Dispatcher) invokeOnce(ctx context.Context, tool ports.Tool, args map[string]any) (out any, err error) {
	if d.policy.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.policy.CallTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("tool", tool.Name()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("tool handler panicked")
			out = nil
			err = ports.Errf(ports.KindInternal, "internal error")
		}
	}()

	return tool.Invoke(ctx, args)
}

// recordAudit persists the call outcome. Recording survives a canceled call
// context and never affects the result.
func (d *Dispatcher) recordAudit(ctx context.Context, req ports.ToolCallRequest, res ports.ToolCallResult) {
	entry := ports.AuditEntry{
		CallID:    res.CallID,
		Tool:      req.Tool,
		Operation: operationOf(req.Args),
		Success:   res.Success,
		ElapsedMs: res.Elapsed.Milliseconds(),
		At:        time.Now().UTC(),
	}
	if res.Error != nil {
		entry.ErrorKind = string(res.Error.Kind)
	}
	if err := d.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		d.logger.Warn().Str("call_id", res.CallID).Err(err).Msg("audit record failed")
	}
}

// operationOf pulls the operation discriminator out of the argument map,
// when the tool has one.
func operationOf(args map[string]any) string {
	if v, ok := args["operation"].(string); ok {
		return v
	}
	return ""
}

// classify maps an arbitrary handler error into the dispatch taxonomy. The
// second return reports whether the original message was hidden behind an
// opaque internal error; callers log the original in that case.
func classify(err error) (*ports.ToolError, bool) {
	var te *ports.ToolError
	if errors.As(err, &te) {
		return te, false
	}

	var pe *sandbox.PathError
	if errors.As(err, &pe) {
		return &ports.ToolError{
			Kind:      pe.Kind,
			Message:   pe.Error(),
			Retryable: pe.Kind.Retryable(),
		}, false
	}

	switch {
	case errors.Is(err, ErrUnknownTool):
		return ports.Errf(ports.KindUnknownTool, "%v", err), false
	case errors.Is(err, context.DeadlineExceeded):
		return ports.Errf(ports.KindTimeout, "tool call timed out"), false
	case errors.Is(err, context.Canceled):
		return ports.Errf(ports.KindTimeout, "tool call canceled"), false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ports.Errf(ports.KindUnreachableHost, "host lookup failed: %s", dnsErr.Name), false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return ports.Errf(ports.KindTimeout, "network operation timed out"), false
		}
		return ports.Errf(ports.KindUnreachableHost, "%v", opErr), false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ports.Errf(ports.KindTimeout, "network operation timed out"), false
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ports.Errf(ports.KindNotFound, "%v", err), false
	case errors.Is(err, fs.ErrExist):
		return ports.Errf(ports.KindAlreadyExists, "%v", err), false
	case errors.Is(err, fs.ErrPermission):
		return ports.Errf(ports.KindNotAllowed, "%v", err), false
	}

	return ports.Errf(ports.KindInternal, "internal error"), true
}
