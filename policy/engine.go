package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine evaluates outbound provider requests against an OPA policy.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.request_policy.decision"),
		rego.Module("request_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks a request against the policy. Input is a map with keys
// like operation, model, image_url, n, prompt_bytes.
// Returns: decision (allow, block), reason (optional), error.
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy is expected to define a default; treat a silent one
		// as allow.
		return "allow", "default", nil
	}

	val := results[0].Expressions[0].Value
	if s, ok := val.(string); ok {
		return s, "", nil
	}

	return "allow", "unexpected return type", nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package request_policy

default decision = "allow"

# Providers cannot fetch plain-http attachments
decision = "block" {
	input.operation == "vision"
	not startswith(input.image_url, "https://")
	not startswith(input.image_url, "data:image/")
}

# Batch image generation is capped
decision = "block" {
	input.operation == "image"
	input.n > 4
}

# Oversized prompts never leave the process
decision = "block" {
	input.operation == "chat"
	input.prompt_bytes > 262144
}
`
