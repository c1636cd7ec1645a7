// Package wire renders engine operations as self-contained strings for a
// foreign-function or RPC boundary.
//
// Every string a Facade returns is freshly allocated. Successful push and
// wait calls return a JSON document; failures return an error document of
// the form {"error":{"code":"...","message":"..."}}, where code is
// api.ErrorCode of the underlying error. Operations with no result return
// "" on success.
package wire

import (
	"context"
	"encoding/json"

	"github.com/petrijr/sconcur/pkg/api"
)

type ackDoc struct {
	FlowKey string `json:"flowKey"`
	TaskKey string `json:"taskKey"`
	Status  string `json:"status"`
}

type outcomeDoc struct {
	FlowKey     string `json:"flowKey"`
	TaskKey     string `json:"taskKey"`
	Method      int    `json:"method"`
	Status      string `json:"status"`
	Result      string `json:"result"`
	Error       string `json:"error"`
	ExecutionMs int64  `json:"executionMs"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorDoc struct {
	Error errorBody `json:"error"`
}

// Facade adapts an api.Engine to string returns.
type Facade struct {
	engine api.Engine
}

// NewFacade wraps engine.
func NewFacade(engine api.Engine) *Facade {
	return &Facade{engine: engine}
}

// Engine returns the wrapped engine.
func (f *Facade) Engine() api.Engine {
	return f.engine
}

func (f *Facade) Ping(name string) string {
	return f.engine.Ping(name)
}

func (f *Facade) Version() string {
	return f.engine.Version()
}

func (f *Facade) Count() int {
	return f.engine.Count()
}

// Push admits a task and returns its acknowledgement document.
func (f *Facade) Push(ctx context.Context, flowKey string, method int, taskKey, payload string) string {
	ack, err := f.engine.Push(ctx, api.Request{
		FlowKey: flowKey,
		TaskKey: taskKey,
		Method:  api.Method(method),
		Payload: payload,
	})
	if err != nil {
		return EncodeError(err)
	}
	return encode(ackDoc{
		FlowKey: ack.FlowKey,
		TaskKey: ack.TaskKey,
		Status:  string(ack.Status),
	})
}

// Wait blocks for the next outcome of flowKey and returns its document.
func (f *Facade) Wait(ctx context.Context, flowKey string) string {
	out, err := f.engine.Wait(ctx, flowKey)
	if err != nil {
		return EncodeError(err)
	}
	return EncodeOutcome(out)
}

func (f *Facade) Cancel(ctx context.Context, flowKey, taskKey string) string {
	return EncodeError(f.engine.Cancel(ctx, flowKey, taskKey))
}

func (f *Facade) StopFlow(ctx context.Context, flowKey string) string {
	return EncodeError(f.engine.StopFlow(ctx, flowKey))
}

// Destroy tears the engine down. It always succeeds.
func (f *Facade) Destroy(ctx context.Context) string {
	f.engine.Destroy(ctx)
	return ""
}

// EncodeOutcome renders out as an outcome document.
func EncodeOutcome(out api.Outcome) string {
	return encode(outcomeDoc{
		FlowKey:     out.FlowKey,
		TaskKey:     out.TaskKey,
		Method:      int(out.Method),
		Status:      string(out.Status),
		Result:      out.Result,
		Error:       out.Error,
		ExecutionMs: out.ExecutionMs,
	})
}

// EncodeError renders err as an error document, or "" for a nil error.
func EncodeError(err error) string {
	if err == nil {
		return ""
	}
	return encode(errorDoc{Error: errorBody{
		Code:    api.ErrorCode(err),
		Message: err.Error(),
	}})
}

func encode(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Only reachable for values json cannot represent.
		return `{"error":{"code":"Internal","message":"encoding failed"}}`
	}
	return string(data)
}
