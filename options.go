package decepticon

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/decepticon-ai/decepticon/agent"
	"github.com/decepticon-ai/decepticon/config"
	"github.com/decepticon-ai/decepticon/gateway"
	"github.com/decepticon-ai/decepticon/session"
)

// Option configures the Operator.
type Option func(*operatorConfig)

// operatorConfig holds configuration collected by New before wiring.
type operatorConfig struct {
	cfg        *config.Config
	configPath string
	store      session.Store
	sessionDir string
	deciders   map[string]agent.Decider
	units      []agent.Unit
	servers    map[string][]gateway.Server
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
}

// WithConfig sets the operation configuration: roster, limits, and static
// tool servers. Without it (and without WithConfigFile) the standard
// four-agent swarm defaults apply.
func WithConfig(cfg *config.Config) Option {
	return func(c *operatorConfig) { c.cfg = cfg }
}

// WithConfigFile loads the operation configuration from a YAML file.
func WithConfigFile(path string) Option {
	return func(c *operatorConfig) { c.configPath = path }
}

// WithStore sets the session store. Defaults to a file store under
// "sessions" in the working directory.
func WithStore(store session.Store) Option {
	return func(c *operatorConfig) { c.store = store }
}

// WithSessionDir sets the directory for the default file store. Ignored when
// WithStore is used.
func WithSessionDir(dir string) Option {
	return func(c *operatorConfig) { c.sessionDir = dir }
}

// WithDecider registers the decision capability for a configured agent. An
// Agent Unit is built from the roster entry of the same name.
func WithDecider(name string, d agent.Decider) Option {
	return func(c *operatorConfig) { c.deciders[name] = d }
}

// WithUnit registers a fully built Agent Unit, for agents that need more
// than a decider behind the standard unit.
func WithUnit(u agent.Unit) Option {
	return func(c *operatorConfig) { c.units = append(c.units, u) }
}

// WithToolServers adds tool servers for an agent role on top of those from
// the configuration, typically descriptors discovered through the registry.
func WithToolServers(role string, servers ...gateway.Server) Option {
	return func(c *operatorConfig) {
		c.servers[role] = append(c.servers[role], servers...)
	}
}

// WithLogger sets a custom logger. Defaults to a JSON slog handler on
// standard output at info level.
func WithLogger(logger *slog.Logger) Option {
	return func(c *operatorConfig) { c.logger = logger }
}

// WithTracer sets an OpenTelemetry tracer for session, turn, and tool spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *operatorConfig) { c.tracer = tracer }
}

// WithMeter sets an OpenTelemetry meter for engine counters.
func WithMeter(meter metric.Meter) Option {
	return func(c *operatorConfig) { c.meter = meter }
}
