package registry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Client implements Registry on etcd. Entries are stored under
// /namespace/toolservers/role/name/instance-id, each bound to a lease that a
// background goroutine renews every TTL/3 seconds; a crashed server's entries
// expire on their own.
//
// All methods are safe for concurrent use.
type Client struct {
	client    *clientv3.Client
	namespace string
	ttl       int

	mu         sync.Mutex
	leases     map[string]clientv3.LeaseID
	cancelFns  map[string]context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	closedChan chan struct{}
}

// NewClient connects to etcd and verifies connectivity.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("registry: endpoints cannot be empty")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "decepticon"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30
	}

	clientCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: 5 * time.Second,
	}
	if cfg.TLS != nil {
		tlsConfig, err := cfg.TLS.clientConfig()
		if err != nil {
			return nil, fmt.Errorf("registry: configure TLS: %w", err)
		}
		clientCfg.TLS = tlsConfig
	}

	cli, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("registry: create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := cli.Get(ctx, "health-check"); err != nil && err != context.DeadlineExceeded {
		_ = cli.Close()
		return nil, fmt.Errorf("registry: etcd health check failed: %w", err)
	}

	return &Client{
		client:     cli,
		namespace:  cfg.Namespace,
		ttl:        cfg.TTL,
		leases:     make(map[string]clientv3.LeaseID),
		cancelFns:  make(map[string]context.CancelFunc),
		closedChan: make(chan struct{}),
	}, nil
}

func (c *Client) key(role, name, instanceID string) string {
	return fmt.Sprintf("/%s/toolservers/%s/%s/%s", c.namespace, role, name, instanceID)
}

func (c *Client) rolePrefix(role string) string {
	return fmt.Sprintf("/%s/toolservers/%s/", c.namespace, role)
}

// Register implements Registry.
func (c *Client) Register(ctx context.Context, info ToolServerInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("registry: client is closed")
	}

	if cancelFn, exists := c.cancelFns[info.InstanceID]; exists {
		cancelFn()
		delete(c.cancelFns, info.InstanceID)
	}

	lease, err := c.client.Grant(ctx, int64(c.ttl))
	if err != nil {
		return fmt.Errorf("registry: create lease: %w", err)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("registry: marshal tool server info: %w", err)
	}

	key := c.key(info.Role, info.Name, info.InstanceID)
	if _, err := c.client.Put(ctx, key, string(data), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registry: register tool server: %w", err)
	}

	c.leases[info.InstanceID] = lease.ID

	keepaliveCtx, cancel := context.WithCancel(context.Background())
	c.cancelFns[info.InstanceID] = cancel
	c.wg.Add(1)
	go c.keepalive(keepaliveCtx, lease.ID, info.InstanceID)

	return nil
}

// Deregister implements Registry.
func (c *Client) Deregister(ctx context.Context, info ToolServerInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("registry: client is closed")
	}

	if cancelFn, exists := c.cancelFns[info.InstanceID]; exists {
		cancelFn()
		delete(c.cancelFns, info.InstanceID)
	}

	leaseID, exists := c.leases[info.InstanceID]
	if !exists {
		return nil
	}
	if _, err := c.client.Revoke(ctx, leaseID); err != nil {
		return fmt.Errorf("registry: revoke lease: %w", err)
	}
	delete(c.leases, info.InstanceID)
	return nil
}

// List implements Registry.
func (c *Client) List(ctx context.Context, role string) ([]ToolServerInfo, error) {
	resp, err := c.client.Get(ctx, c.rolePrefix(role), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: list tool servers: %w", err)
	}

	infos := make([]ToolServerInfo, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var info ToolServerInfo
		if err := json.Unmarshal(kv.Value, &info); err != nil {
			// Skip undecodable entries rather than failing discovery.
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Watch implements Registry.
func (c *Client) Watch(ctx context.Context, role string) (<-chan []ToolServerInfo, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("registry: client is closed")
	}

	ch := make(chan []ToolServerInfo, 1)

	initial, err := c.List(ctx, role)
	if err != nil {
		return nil, err
	}
	ch <- initial

	watchChan := c.client.Watch(ctx, c.rolePrefix(role), clientv3.WithPrefix())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closedChan:
				return
			case resp, ok := <-watchChan:
				if !ok || resp.Err() != nil {
					return
				}
				current, err := c.List(context.Background(), role)
				if err != nil {
					continue
				}
				select {
				case ch <- current:
				case <-ctx.Done():
					return
				case <-c.closedChan:
					return
				}
			}
		}
	}()

	return ch, nil
}

// Close implements Registry.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, cancel := range c.cancelFns {
		cancel()
	}
	c.cancelFns = make(map[string]context.CancelFunc)
	close(c.closedChan)
	c.mu.Unlock()

	c.wg.Wait()
	return c.client.Close()
}

// keepalive renews the lease until cancelled or the lease becomes invalid.
func (c *Client) keepalive(ctx context.Context, leaseID clientv3.LeaseID, instanceID string) {
	defer c.wg.Done()

	ticker := time.NewTicker(time.Duration(c.ttl) * time.Second / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closedChan:
			return
		case <-ticker.C:
			if _, err := c.client.KeepAliveOnce(context.Background(), leaseID); err != nil {
				c.mu.Lock()
				delete(c.leases, instanceID)
				delete(c.cancelFns, instanceID)
				c.mu.Unlock()
				return
			}
		}
	}
}

// clientConfig builds a tls.Config from the certificate paths.
func (t *TLSConfig) clientConfig() (*tls.Config, error) {
	if t.CertFile == "" || t.KeyFile == "" || t.CAFile == "" {
		return nil, fmt.Errorf("cert, key and CA files are all required")
	}

	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}

	caData, err := os.ReadFile(t.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("parse CA certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
