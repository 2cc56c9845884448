// Package config provides loading and parsing of the operation configuration:
// the agent roster with handoff eligibility, execution limits, and the tool
// servers available to each agent role.
//
// Tool server transports follow the descriptor shape: a server with a url is
// reached over streamable HTTP, a server with a command over stdio.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML support for strings like "60s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// AgentConfig is one roster entry.
type AgentConfig struct {
	// Targets lists the agents this one may hand off to.
	Targets []string `yaml:"targets,omitempty"`

	// Quota is the maximum turns this agent may take per session.
	// Zero defaults to 8; negative means unlimited.
	Quota int `yaml:"quota,omitempty"`

	// CanTerminate authorizes the agent to end the session with a final answer.
	CanTerminate bool `yaml:"can_terminate,omitempty"`

	// Guard is an optional CEL expression gating handoffs to this agent.
	Guard string `yaml:"guard,omitempty"`
}

// Limits bounds session execution.
type Limits struct {
	// MaxTurns is the global turn limit per session.
	MaxTurns int `yaml:"max_turns,omitempty"`

	// DecisionRetries is how many times a failed decide is retried within
	// one turn before the session fails.
	DecisionRetries int `yaml:"decision_retries,omitempty"`

	// ToolTimeout is the per-tool-call timeout.
	ToolTimeout Duration `yaml:"tool_timeout,omitempty"`

	// ToolFailureLimit is the number of consecutive failed tool calls by one
	// agent after which the session fails.
	ToolFailureLimit int `yaml:"tool_failure_limit,omitempty"`

	// MaxAnswerBounces bounds how often a final answer from an agent without
	// terminate authority is bounced back to the planner.
	MaxAnswerBounces int `yaml:"max_answer_bounces,omitempty"`
}

// ServerConfig describes one tool server. Exactly one of Command or URL must
// be set; the transport is inferred from which one is.
type ServerConfig struct {
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	URL     string   `yaml:"url,omitempty"`
	Tools   []string `yaml:"tools,omitempty"`
}

// Config is the full operation configuration.
type Config struct {
	// Agents is the roster, keyed by agent name.
	Agents map[string]AgentConfig `yaml:"agents"`

	// Limits bounds session execution.
	Limits Limits `yaml:"limits"`

	// ToolServers maps agent name to its named tool servers.
	ToolServers map[string]map[string]ServerConfig `yaml:"tool_servers,omitempty"`

	// InitialAgent takes the first turn of every session. Defaults to
	// "planner".
	InitialAgent string `yaml:"initial_agent,omitempty"`
}

// Default returns the standard four-agent swarm configuration: a planner that
// delegates to reconnaissance and initial access specialists, and a summary
// agent that closes the operation.
func Default() *Config {
	cfg := &Config{
		Agents: map[string]AgentConfig{
			"planner": {
				Targets:      []string{"reconnaissance", "initial_access", "summary"},
				CanTerminate: true,
			},
			"reconnaissance": {
				Targets: []string{"planner", "initial_access", "summary"},
			},
			"initial_access": {
				Targets: []string{"planner", "reconnaissance", "summary"},
			},
			"summary": {
				Targets:      []string{"planner"},
				CanTerminate: true,
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with their standard values. Load and Parse
// call it automatically; hand-built configurations should call it before use.
func (c *Config) ApplyDefaults() {
	if c.InitialAgent == "" {
		c.InitialAgent = "planner"
	}
	for name, a := range c.Agents {
		if a.Quota == 0 {
			a.Quota = 8
			c.Agents[name] = a
		}
	}
	if c.Limits.MaxTurns == 0 {
		c.Limits.MaxTurns = 32
	}
	if c.Limits.DecisionRetries == 0 {
		c.Limits.DecisionRetries = 2
	}
	if c.Limits.ToolTimeout == 0 {
		c.Limits.ToolTimeout = Duration(60 * time.Second)
	}
	if c.Limits.ToolFailureLimit == 0 {
		c.Limits.ToolFailureLimit = 2
	}
	if c.Limits.MaxAnswerBounces == 0 {
		c.Limits.MaxAnswerBounces = 2
	}
}

// Validate checks referential integrity: every handoff target and tool-server
// owner must name a configured agent, and every server must have exactly one
// transport.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("config: no agents configured")
	}
	if _, ok := c.Agents[c.InitialAgent]; !ok {
		return fmt.Errorf("config: initial agent %q is not configured", c.InitialAgent)
	}
	for name, a := range c.Agents {
		for _, t := range a.Targets {
			if _, ok := c.Agents[t]; !ok {
				return fmt.Errorf("config: agent %s targets unknown agent %q", name, t)
			}
		}
	}
	for owner, servers := range c.ToolServers {
		if _, ok := c.Agents[owner]; !ok {
			return fmt.Errorf("config: tool servers configured for unknown agent %q", owner)
		}
		for sname, srv := range servers {
			hasCmd := srv.Command != ""
			hasURL := srv.URL != ""
			if hasCmd == hasURL {
				return fmt.Errorf("config: tool server %s/%s must set exactly one of command or url", owner, sname)
			}
		}
	}
	return nil
}
