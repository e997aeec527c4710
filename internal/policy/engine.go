// Package policy decides how the client reacts to tool-call events.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/0xbacklit/voice-agent/internal/domain"
)

// Decision is the outcome of evaluating a tool-call event.
type Decision string

const (
	// DecisionRecord appends the call to the history.
	DecisionRecord Decision = "record"
	// DecisionEnd records the call and arms the pending end of the session.
	DecisionEnd Decision = "end"
	// DecisionIgnore drops the call.
	DecisionIgnore Decision = "ignore"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_events.decision"),
		rego.Module("tool_events.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewDefaultEngine creates an engine running DefaultPolicy.
func NewDefaultEngine(ctx context.Context) (*Engine, error) {
	return NewEngine(ctx, DefaultPolicy)
}

// Evaluate decides what to do with a tool call. Undefined or unexpected results
// fall back to DecisionRecord.
func (e *Engine) Evaluate(ctx context.Context, event domain.ToolCallEvent) (Decision, error) {
	input := map[string]interface{}{
		"id":     event.ID,
		"name":   event.Name,
		"status": string(event.Status),
		"detail": event.Detail,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return DecisionRecord, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionRecord, nil
	}

	s, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return DecisionRecord, nil
	}
	switch d := Decision(s); d {
	case DecisionRecord, DecisionEnd, DecisionIgnore:
		return d, nil
	default:
		return DecisionRecord, nil
	}
}

// DefaultPolicy ends the conversation when the agent calls end_conversation.
const DefaultPolicy = `
package tool_events

default decision = "record"

decision = "end" {
	input.name == "end_conversation"
}
`
