// Package vault reads exchange credentials from HashiCorp Vault (KV v2)
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
)

// ErrNotFound is returned when no credentials are stored at the path
var ErrNotFound = errors.New("credentials not found")

// Config selects the Vault server and the KV path credentials live under
type Config struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Address    string `json:"address" yaml:"address"`
	Token      string `json:"token" yaml:"token"`
	MountPath  string `json:"mount_path" yaml:"mount_path"`
	SecretPath string `json:"secret_path" yaml:"secret_path"`
	CACert     string `json:"ca_cert" yaml:"ca_cert"`
}

// Credentials is an exchange API key pair
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	IsTestnet bool   `json:"is_testnet"`
}

// Client reads credentials, caching them for the life of the process
type Client struct {
	client *api.Client
	config Config

	mu    sync.RWMutex
	cache map[string]Credentials
}

// NewClient creates a Vault client. A disabled config yields a client that
// only serves credentials seeded with Seed.
func NewClient(cfg Config) (*Client, error) {
	c := &Client{config: cfg, cache: make(map[string]Credentials)}
	if cfg.MountPath == "" {
		c.config.MountPath = "secret"
	}
	if cfg.SecretPath == "" {
		c.config.SecretPath = "trader"
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address
	if cfg.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	c.client = client
	return c, nil
}

// Seed caches credentials without touching Vault
func (c *Client) Seed(exchange string, creds Credentials) {
	c.mu.Lock()
	c.cache[c.secretPath(exchange, creds.IsTestnet)] = creds
	c.mu.Unlock()
}

// Credentials returns the key pair stored for exchange on the given network
func (c *Client) Credentials(ctx context.Context, exchange string, testnet bool) (Credentials, error) {
	path := c.secretPath(exchange, testnet)

	c.mu.RLock()
	cached, ok := c.cache[path]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	if !c.config.Enabled {
		return Credentials{}, ErrNotFound
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return Credentials{}, ErrNotFound
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return Credentials{}, fmt.Errorf("invalid secret format at %s", path)
	}

	creds := Credentials{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
		IsTestnet: getBool(data, "is_testnet"),
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return Credentials{}, ErrNotFound
	}

	c.mu.Lock()
	c.cache[path] = creds
	c.mu.Unlock()
	return creds, nil
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

func (c *Client) secretPath(exchange string, testnet bool) string {
	network := "mainnet"
	if testnet {
		network = "testnet"
	}
	return fmt.Sprintf("%s/data/%s/%s_%s", c.config.MountPath, c.config.SecretPath, exchange, network)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if val, ok := data[key]; ok {
		switch v := val.(type) {
		case bool:
			return v
		case string:
			return v == "true"
		case json.Number:
			n, _ := v.Int64()
			return n != 0
		}
	}
	return false
}
