// Package registry provides dynamic discovery of tool servers.
//
// Static configuration covers fixed deployments; the registry covers fleets
// where tool servers come and go. Servers register themselves at startup,
// maintain presence through lease keepalives, and disappear automatically
// when they crash or disconnect. The orchestration side lists or watches the
// servers registered for an agent role and feeds them to the tool gateway.
package registry

import (
	"context"
	"time"

	"github.com/decepticon-ai/decepticon/gateway"
)

// ToolServerInfo describes one registered tool-server instance.
type ToolServerInfo struct {
	// Role is the agent role this server belongs to (e.g. "reconnaissance").
	Role string `json:"role"`

	// Name is the server name within the role's set (e.g. "nmap").
	Name string `json:"name"`

	// InstanceID uniquely identifies this instance so multiple instances of
	// the same server can run concurrently.
	InstanceID string `json:"instance_id"`

	// Command and Args define a stdio server.
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// URL defines a streamable HTTP server.
	URL string `json:"url,omitempty"`

	// Tools lists the tool names this server hosts.
	Tools []string `json:"tools,omitempty"`

	// StartedAt is when this instance started.
	StartedAt time.Time `json:"started_at"`
}

// Server converts the registration into a gateway server descriptor.
func (i ToolServerInfo) Server() gateway.Server {
	return gateway.Server{
		Name:    i.Name,
		Command: i.Command,
		Args:    i.Args,
		URL:     i.URL,
		Tools:   i.Tools,
	}
}

// Servers converts a set of registrations into gateway descriptors.
func Servers(infos []ToolServerInfo) []gateway.Server {
	out := make([]gateway.Server, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.Server())
	}
	return out
}

// Registry is the tool-server registration and discovery interface.
// Implementations must be safe for concurrent use.
type Registry interface {
	// Register adds a tool-server instance. The entry stays discoverable as
	// long as its lease is kept alive; re-registering the same InstanceID
	// updates the existing entry.
	Register(ctx context.Context, info ToolServerInfo) error

	// Deregister removes a tool-server instance. Removing an instance that
	// is not registered is a no-op.
	Deregister(ctx context.Context, info ToolServerInfo) error

	// List returns all instances registered for an agent role.
	List(ctx context.Context, role string) ([]ToolServerInfo, error)

	// Watch emits the role's current instance list immediately and again
	// after every registration, deregistration, or lease expiry. The channel
	// closes when the context is cancelled or the registry is closed.
	Watch(ctx context.Context, role string) (<-chan []ToolServerInfo, error)

	// Close releases resources and stops background keepalives.
	Close() error
}

// Config configures the etcd-backed registry client.
type Config struct {
	// Endpoints lists the etcd cluster endpoints.
	Endpoints []string

	// Namespace prefixes all registry keys. Defaults to "decepticon".
	Namespace string

	// TTL is the lease time-to-live in seconds. Defaults to 30; keepalives
	// run every TTL/3.
	TTL int

	// TLS optionally secures the etcd connection.
	TLS *TLSConfig
}

// TLSConfig holds certificate paths for a mutual-TLS etcd connection.
type TLSConfig struct {
	CertFile string
	KeyFile  string
	CAFile   string
}
