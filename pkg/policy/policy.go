// Package policy holds the per-channel rules the bridge enforces before
// a message reaches the downstream gateway: payload size ceilings,
// sender and command allowlists, authentication requirements, and the
// fanout targets a channel republishes to.
package policy

import (
	"fmt"

	"github.com/openclaw/bridge/pkg/authn"
	"github.com/openclaw/bridge/pkg/message"
)

// Rule is the policy applied to one source channel.
type Rule struct {
	RequireAuthenticated bool              `json:"requireAuthenticated" yaml:"requireAuthenticated"`
	MaxPayloadBytes      int               `json:"maxPayloadBytes" yaml:"maxPayloadBytes"`
	RateLimitPerMinute   int               `json:"rateLimitPerMinute" yaml:"rateLimitPerMinute"`
	AllowedSenders       []string          `json:"allowedSenders,omitempty" yaml:"allowedSenders,omitempty"`
	AllowCommands        bool              `json:"allowCommands" yaml:"allowCommands"`
	AllowedCommands      []string          `json:"allowedCommands,omitempty" yaml:"allowedCommands,omitempty"`
	FanoutTargets        []message.Channel `json:"fanoutTargets,omitempty" yaml:"fanoutTargets,omitempty"`

	// Expression is an optional CEL predicate over the canonical
	// message, evaluated after the built-in checks. Empty means no
	// extra constraint.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Policy maps each source channel to its rule. Channels without an
// entry are rejected outright.
type Policy map[message.Channel]Rule

// Violation is a policy rejection. It is data about the message, not a
// fault in the bridge, and is reported to the audit trail verbatim.
type Violation struct {
	Channel message.Channel
	Message string
}

func (v *Violation) Error() string { return v.Message }

// NewViolation builds a Violation for the given channel.
func NewViolation(channel message.Channel, format string, args ...any) *Violation {
	return &Violation{Channel: channel, Message: fmt.Sprintf(format, args...)}
}

// Engine resolves and enforces per-channel rules.
type Engine struct {
	rules Policy
	guard *CELGuard

	// allowlists are folded once at construction so every message
	// comparison is a single map lookup.
	senderSets map[message.Channel]map[string]struct{}
}

// NewEngine builds an Engine over the given policy. Rule expressions
// are compiled on first evaluation and cached.
func NewEngine(rules Policy) (*Engine, error) {
	guard, err := NewCELGuard()
	if err != nil {
		return nil, fmt.Errorf("policy expression support: %w", err)
	}
	e := &Engine{
		rules:      rules,
		guard:      guard,
		senderSets: make(map[message.Channel]map[string]struct{}, len(rules)),
	}
	for channel, rule := range rules {
		if len(rule.AllowedSenders) > 0 {
			e.senderSets[channel] = authn.FoldSet(rule.AllowedSenders)
		}
	}
	return e, nil
}

// ResolveRule returns the rule for a source channel, or a Violation
// when none is configured.
func (e *Engine) ResolveRule(channel message.Channel) (Rule, error) {
	rule, ok := e.rules[channel]
	if !ok {
		return Rule{}, NewViolation(channel, "No policy rule configured for source channel: %s", channel)
	}
	return rule, nil
}

// EnforcePayloadLimit rejects payloads whose UTF-8 byte length exceeds
// the rule's ceiling. A ceiling of zero or below disables the check.
func (e *Engine) EnforcePayloadLimit(rule Rule, channel message.Channel, payload string) error {
	if rule.MaxPayloadBytes <= 0 {
		return nil
	}
	if size := len(payload); size > rule.MaxPayloadBytes {
		return NewViolation(channel, "Payload too large for %s: %d > %d", channel, size, rule.MaxPayloadBytes)
	}
	return nil
}

// EnforceAuthentication rejects unauthenticated messages on channels
// whose rule requires verified provenance.
func (e *Engine) EnforceAuthentication(rule Rule, channel message.Channel, state message.CryptographicState) error {
	if rule.RequireAuthenticated && !state.Authenticated {
		return NewViolation(channel, "Authentication required for %s", channel)
	}
	return nil
}

// EnforceSenderAllowlist rejects senders not present in the rule's
// allowlist. Comparison is case-insensitive. An empty allowlist admits
// every sender.
func (e *Engine) EnforceSenderAllowlist(rule Rule, channel message.Channel, senderID string) error {
	if len(rule.AllowedSenders) == 0 {
		return nil
	}
	if !authn.FoldContains(e.senderSets[channel], senderID) {
		return NewViolation(channel, "Sender is not allowlisted for %s", channel)
	}
	return nil
}

// EnforceCommandAllowlist applies the command rules to a canonical
// message. Non-command messages always pass. Command names are matched
// case-sensitively, and a command rule with no allowlist rejects every
// command even when commands are nominally enabled.
func (e *Engine) EnforceCommandAllowlist(rule Rule, channel message.Channel, msg message.Canonical) error {
	if msg.Kind != message.KindCommand {
		return nil
	}
	if !rule.AllowCommands {
		return NewViolation(channel, "Command handling disabled for %s", channel)
	}
	for _, allowed := range rule.AllowedCommands {
		if msg.CommandName == allowed {
			return nil
		}
	}
	return NewViolation(channel, "Command not allowed: %s", msg.CommandName)
}

// EnforceExpression evaluates the rule's CEL predicate against the
// canonical message. Evaluation errors fail closed.
func (e *Engine) EnforceExpression(rule Rule, channel message.Channel, msg message.Canonical) error {
	if rule.Expression == "" {
		return nil
	}
	allowed, err := e.guard.Evaluate(rule.Expression, msg)
	if err != nil {
		return NewViolation(channel, "Policy expression rejected message on %s: %v", channel, err)
	}
	if !allowed {
		return NewViolation(channel, "Policy expression rejected message on %s", channel)
	}
	return nil
}

// Enforce runs every post-verification check in order and returns the
// first Violation. Rate limiting, replay, and payload checks run
// earlier in the pipeline against the raw inbound.
func (e *Engine) Enforce(rule Rule, channel message.Channel, msg message.Canonical) error {
	if err := e.EnforceAuthentication(rule, channel, msg.CryptographicState); err != nil {
		return err
	}
	if err := e.EnforceSenderAllowlist(rule, channel, msg.SourceSenderID); err != nil {
		return err
	}
	if err := e.EnforceCommandAllowlist(rule, channel, msg); err != nil {
		return err
	}
	return e.EnforceExpression(rule, channel, msg)
}
