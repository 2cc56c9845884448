package agent

import (
	"context"
	"fmt"
)

// Config assembles an Agent Unit without implementing the Unit interface from
// scratch. Setters chain; Build validates and returns the unit.
//
// Example:
//
//	unit, err := agent.NewConfig().
//	    SetName("reconnaissance").
//	    SetRole(agent.RoleReconnaissance).
//	    SetDecider(recon).
//	    Build()
type Config struct {
	name    string
	role    Role
	decider Decider
}

// NewConfig creates an empty agent configuration.
func NewConfig() *Config {
	return &Config{}
}

// SetName sets the agent's roster name. Names are short snake_case
// identifiers and must be unique within a roster.
func (c *Config) SetName(name string) *Config {
	c.name = name
	return c
}

// SetRole sets the agent's swarm role.
func (c *Config) SetRole(role Role) *Config {
	c.role = role
	return c
}

// SetDecider sets the injected decision-making capability.
func (c *Config) SetDecider(d Decider) *Config {
	c.decider = d
	return c
}

// SetDecideFunc sets the decision capability from a plain function.
func (c *Config) SetDecideFunc(f DecideFunc) *Config {
	c.decider = f
	return c
}

// Build validates the configuration and returns the Agent Unit.
func (c *Config) Build() (Unit, error) {
	if c.name == "" {
		return nil, fmt.Errorf("agent config: name is required")
	}
	if !c.role.IsValid() {
		return nil, fmt.Errorf("agent config %s: invalid role %q", c.name, c.role)
	}
	if c.decider == nil {
		return nil, fmt.Errorf("agent config %s: decider is required", c.name)
	}
	return &builtUnit{
		name:    c.name,
		role:    c.role,
		decider: c.decider,
	}, nil
}

// builtUnit is the Unit produced by Config.Build.
type builtUnit struct {
	name    string
	role    Role
	decider Decider
}

func (u *builtUnit) Name() string { return u.name }

func (u *builtUnit) Role() Role { return u.role }

// Decide delegates to the injected capability, validating its output and
// wrapping failures in a DecisionError.
func (u *builtUnit) Decide(ctx context.Context, state *State, turn TurnContext) (Decision, error) {
	d, err := u.decider.Decide(ctx, state, turn)
	if err != nil {
		return Decision{}, &DecisionError{Agent: u.name, Err: err}
	}
	if err := d.Validate(); err != nil {
		return Decision{}, &DecisionError{Agent: u.name, Err: err}
	}
	return d, nil
}
