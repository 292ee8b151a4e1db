package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/openclaw/bridge/pkg/message"
)

// CELGuard evaluates rule expressions against canonical messages.
// Compiled programs are cached per expression.
type CELGuard struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewCELGuard creates a guard whose environment exposes the canonical
// message as a dynamic map under "msg".
func NewCELGuard() (*CELGuard, error) {
	env, err := cel.NewEnv(
		cel.Variable("msg", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &CELGuard{
		env:      env,
		prgCache: make(map[string]cel.Program),
	}, nil
}

// Evaluate runs expr against the message. A non-bool result or any
// compile or eval error is returned so the caller can fail closed.
func (g *CELGuard) Evaluate(expr string, msg message.Canonical) (bool, error) {
	prg, err := g.program(expr)
	if err != nil {
		return false, err
	}

	input := map[string]any{
		"msg": map[string]any{
			"kind":          string(msg.Kind),
			"sourceChannel": string(msg.SourceChannel),
			"senderId":      msg.SourceSenderID,
			"text":          msg.Text,
			"commandName":   msg.CommandName,
			"authenticated": msg.CryptographicState.Authenticated,
			"confidence":    string(msg.CryptographicState.Confidence),
		},
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}

func (g *CELGuard) program(expr string) (cel.Program, error) {
	g.mu.RLock()
	prg, hit := g.prgCache[expr]
	g.mu.RUnlock()
	if hit {
		return prg, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if prg, hit = g.prgCache[expr]; hit {
		return prg, nil
	}

	ast, issues := g.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := g.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	g.prgCache[expr] = prg
	return prg, nil
}
