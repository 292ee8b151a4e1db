package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openclaw/bridge/pkg/message"
	"github.com/openclaw/bridge/pkg/policy"
)

// DefaultPolicy is the shipped fanout table. Every channel requires
// authentication; payload ceilings reflect each platform's practical
// message size.
func DefaultPolicy() policy.Policy {
	return policy.Policy{
		message.ChannelStatus: {
			RequireAuthenticated: true,
			MaxPayloadBytes:      32768,
			FanoutTargets: []message.Channel{
				message.ChannelTelegram, message.ChannelDiscord,
				message.ChannelSlack, message.ChannelEmail,
			},
		},
		message.ChannelWhatsApp: {
			RequireAuthenticated: true,
			MaxPayloadBytes:      16384,
			FanoutTargets: []message.Channel{
				message.ChannelStatus, message.ChannelSlack, message.ChannelEmail,
			},
		},
		message.ChannelTelegram: {
			RequireAuthenticated: true,
			MaxPayloadBytes:      16384,
			FanoutTargets: []message.Channel{
				message.ChannelStatus, message.ChannelDiscord, message.ChannelEmail,
			},
		},
		message.ChannelSignal: {
			RequireAuthenticated: true,
			MaxPayloadBytes:      16384,
			FanoutTargets: []message.Channel{
				message.ChannelStatus, message.ChannelSlack, message.ChannelEmail,
			},
		},
		message.ChannelDiscord: {
			RequireAuthenticated: true,
			MaxPayloadBytes:      16384,
			FanoutTargets: []message.Channel{
				message.ChannelStatus, message.ChannelSlack, message.ChannelEmail,
			},
		},
		message.ChannelSlack: {
			RequireAuthenticated: true,
			MaxPayloadBytes:      16384,
			FanoutTargets: []message.Channel{
				message.ChannelStatus, message.ChannelDiscord, message.ChannelEmail,
			},
		},
		message.ChannelEmail: {
			RequireAuthenticated: true,
			MaxPayloadBytes:      65536,
			FanoutTargets: []message.Channel{
				message.ChannelStatus, message.ChannelSlack, message.ChannelDiscord,
			},
		},
	}
}

// LoadPolicy returns the active policy table: the YAML file at path
// when set, otherwise the shipped defaults.
func LoadPolicy(path string) (policy.Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var doc struct {
		Rules policy.Policy `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("policy file %s defines no rules", path)
	}
	return doc.Rules, nil
}
