package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/lumen/agent"
	"github.com/hupe1980/lumen/core"
)

// CallbackType defines the specific lifecycle points where callbacks can be executed.
//
// Callbacks provide a flexible mechanism for hooking into the engine's
// invocation pipeline without modifying core logic:
//   - BeforeInvocation: after validation, before the agent loop starts
//   - AfterInvocation: after the loop finished and end was written
//   - OnError: when the loop failed and an error frame was written
//   - OnConsolidation: when a consolidation result was delivered
//
// Callbacks are executed synchronously. A BeforeInvocation callback can
// reject the request by returning an error; errors from the other types are
// logged only, since the response is already streaming.
type CallbackType string

const (
	// CallbackBeforeInvocation is triggered before the agent loop runs.
	CallbackBeforeInvocation CallbackType = "before_invocation"

	// CallbackAfterInvocation is triggered after a successful loop.
	CallbackAfterInvocation CallbackType = "after_invocation"

	// CallbackOnError is triggered when the loop failed.
	CallbackOnError CallbackType = "on_error"

	// CallbackOnConsolidation is triggered when a consolidation result was
	// written to the stream.
	CallbackOnConsolidation CallbackType = "on_consolidation"
)

// CallbackContext provides context information for callback execution.
type CallbackContext struct {
	// InvocationID identifies the request.
	InvocationID string

	// Request is the agent input.
	Request *agent.Request

	// Outcome is set for AfterInvocation and OnError (partial outcome).
	Outcome *agent.Outcome

	// Err is set for OnError.
	Err error

	// Consolidation is set for OnConsolidation.
	Consolidation *core.ConsolidationResult

	// CallbackType indicates which callback type triggered this execution.
	CallbackType CallbackType

	// Metadata provides extensible storage for custom callback data.
	Metadata map[string]any
}

// Callback defines the interface for invocation lifecycle hooks.
//
// Implementations should be fast (they run on the request goroutine) and
// must not panic.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	audit := NewFunctionCallback(
//	    CallbackAfterInvocation,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("invocation %s took %d turns", cc.InvocationID, cc.Outcome.Turns)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager orchestrates callback execution throughout the invocation
// lifecycle. Callbacks run in registration order; the first error stops the
// chain. It is safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates a new callback manager instance.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback to the manager for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks executes all registered callbacks for the specified type.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return fmt.Errorf("%s callback: %w", callbackType, err)
		}
	}

	return nil
}

// LoggingCallback forwards lifecycle events to a logging function.
//
// Example:
//
//	callback := NewLoggingCallback(CallbackAfterInvocation, func(msg string) {
//	    log.Printf("[ENGINE] %s", msg)
//	})
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the lifecycle event.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	message := fmt.Sprintf("[%s] Invocation: %s", c.callbackType, callbackCtx.InvocationID)
	if callbackCtx.Outcome != nil {
		message += fmt.Sprintf(", Turns: %d", callbackCtx.Outcome.Turns)
	}
	if callbackCtx.Err != nil {
		message += fmt.Sprintf(", Error: %v", callbackCtx.Err)
	}
	c.logger(message)
	return nil
}

// RequestValidationCallback rejects requests before the agent loop runs.
//
// Example:
//
//	callback := NewRequestValidationCallback(func(req *agent.Request) error {
//	    if len(req.CurrentMessage) > 8000 {
//	        return errors.New("message too long")
//	    }
//	    return nil
//	})
type RequestValidationCallback struct {
	validator func(req *agent.Request) error
}

// NewRequestValidationCallback creates a new request validation callback.
func NewRequestValidationCallback(validator func(req *agent.Request) error) *RequestValidationCallback {
	return &RequestValidationCallback{
		validator: validator,
	}
}

// Type returns the callback type (always CallbackBeforeInvocation).
func (c *RequestValidationCallback) Type() CallbackType {
	return CallbackBeforeInvocation
}

// Execute validates the request.
func (c *RequestValidationCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.validator != nil && callbackCtx.Request != nil {
		return c.validator(callbackCtx.Request)
	}
	return nil
}
