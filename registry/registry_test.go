package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/decepticon-ai/decepticon/gateway"
)

func TestToolServerInfoServer(t *testing.T) {
	t.Run("stdio registration", func(t *testing.T) {
		info := ToolServerInfo{
			Role:       "reconnaissance",
			Name:       "nmap",
			InstanceID: "i-1",
			Command:    "nmap-server",
			Args:       []string{"--json"},
			Tools:      []string{"nmap"},
			StartedAt:  time.Now(),
		}
		srv := info.Server()
		assert.Equal(t, "nmap", srv.Name)
		assert.Equal(t, "nmap-server", srv.Command)
		assert.Equal(t, []string{"--json"}, srv.Args)
		assert.Equal(t, gateway.TransportStdio, srv.Transport())
	})

	t.Run("http registration", func(t *testing.T) {
		info := ToolServerInfo{
			Role:       "initial_access",
			Name:       "exploit",
			InstanceID: "i-2",
			URL:        "http://localhost:9000/invoke",
		}
		srv := info.Server()
		assert.Equal(t, gateway.TransportStreamableHTTP, srv.Transport())
		assert.Equal(t, "http://localhost:9000/invoke", srv.URL)
	})
}

func TestServers(t *testing.T) {
	infos := []ToolServerInfo{
		{Role: "reconnaissance", Name: "nmap", InstanceID: "i-1", Command: "nmap-server"},
		{Role: "reconnaissance", Name: "scanner", InstanceID: "i-2", URL: "http://localhost:9000"},
	}
	servers := Servers(infos)
	assert.Len(t, servers, 2)
	assert.Equal(t, "nmap", servers[0].Name)
	assert.Equal(t, "scanner", servers[1].Name)

	assert.Empty(t, Servers(nil))
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "endpoints cannot be empty")
}

func TestTLSConfigClientConfig(t *testing.T) {
	t.Run("requires all paths", func(t *testing.T) {
		_, err := (&TLSConfig{CertFile: "cert.pem"}).clientConfig()
		assert.Error(t, err)
	})

	t.Run("missing files", func(t *testing.T) {
		_, err := (&TLSConfig{CertFile: "nope.pem", KeyFile: "nope.key", CAFile: "nope-ca.pem"}).clientConfig()
		assert.Error(t, err)
	})
}
