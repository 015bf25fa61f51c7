// Package accel is the root package of the SDK: Client and Server
// endpoints, wiring together the address/filter/wire/accelcrypto/token/
// pinghistory/replay/tracker/relayping/routing/session packages behind
// the contract an integrating application actually calls. Config,
// Client, and Server give the SDK its own binding and lifecycle, rather
// than running as a transport plugin hosted inside another process.
package accel

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml"
	"lukechampine.com/blake3"
)

// Config is the SDK-wide configuration surface: loaded from a TOML
// file, then overridden by environment variables, validated before
// use.
type Config struct {
	LogLevel int `toml:"log_level"`

	ServerBackendHostname string `toml:"server_backend_hostname"`

	BuyerPublicKey  []byte `toml:"-"`
	BuyerPrivateKey []byte `toml:"-"`

	BuyerPublicKeyBase64  string `toml:"buyer_public_key"`
	BuyerPrivateKeyBase64 string `toml:"buyer_private_key"`

	ServerBackendPublicKeyBase64 string `toml:"server_backend_public_key"`
	RelayBackendPublicKeyBase64  string `toml:"relay_backend_public_key"`

	SocketSendBufferSize    int `toml:"socket_send_buffer_size"`
	SocketReceiveBufferSize int `toml:"socket_receive_buffer_size"`

	DisableNetworkNext bool `toml:"disable_network_next"`
	DisableAutodetect  bool `toml:"disable_autodetect"`
}

// DefaultConfig returns a Config with conservative, production-safe
// defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:                2, // info
		SocketSendBufferSize:    1024 * 1024,
		SocketReceiveBufferSize: 1024 * 1024,
	}
}

// LoadConfigFile reads and merges a TOML config file into a freshly
// created default Config.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("accel: read config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("accel: parse config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg fields from the environment variables
// recognized at init: NEXT_LOG_LEVEL, NEXT_BUYER_PUBLIC_KEY/
// NEXT_BUYER_PRIVATE_KEY, NEXT_SERVER_BACKEND_HOSTNAME,
// NEXT_SERVER_BACKEND_PUBLIC_KEY/NEXT_RELAY_BACKEND_PUBLIC_KEY,
// NEXT_SOCKET_SEND_BUFFER_SIZE/NEXT_SOCKET_RECEIVE_BUFFER_SIZE,
// NEXT_DISABLE_NETWORK_NEXT/NEXT_DISABLE_AUTODETECT.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv("NEXT_LOG_LEVEL"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.LogLevel = n
		}
	}
	if v, ok := os.LookupEnv("NEXT_BUYER_PUBLIC_KEY"); ok {
		c.BuyerPublicKeyBase64 = v
	}
	if v, ok := os.LookupEnv("NEXT_BUYER_PRIVATE_KEY"); ok {
		c.BuyerPrivateKeyBase64 = v
	}
	if v, ok := os.LookupEnv("NEXT_SERVER_BACKEND_HOSTNAME"); ok {
		c.ServerBackendHostname = v
	}
	if v, ok := os.LookupEnv("NEXT_SERVER_BACKEND_PUBLIC_KEY"); ok {
		c.ServerBackendPublicKeyBase64 = v
	}
	if v, ok := os.LookupEnv("NEXT_RELAY_BACKEND_PUBLIC_KEY"); ok {
		c.RelayBackendPublicKeyBase64 = v
	}
	if v, ok := os.LookupEnv("NEXT_SOCKET_SEND_BUFFER_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.SocketSendBufferSize = n
		}
	}
	if v, ok := os.LookupEnv("NEXT_SOCKET_RECEIVE_BUFFER_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.SocketReceiveBufferSize = n
		}
	}
	if v, ok := os.LookupEnv("NEXT_DISABLE_NETWORK_NEXT"); ok {
		c.DisableNetworkNext = v != "" && v != "0"
	}
	if v, ok := os.LookupEnv("NEXT_DISABLE_AUTODETECT"); ok {
		c.DisableAutodetect = v != "" && v != "0"
	}
}

// buyerIDFromKey extracts the 8-byte buyer id prefix carried at the
// front of both the buyer public and private key blobs.
func buyerIDFromKey(key []byte) ([8]byte, error) {
	var id [8]byte
	if len(key) < 8 {
		return id, fmt.Errorf("accel: buyer key too short to carry an 8-byte buyer id")
	}
	copy(id[:], key[:8])
	return id, nil
}

// Validate decodes the base64 key fields and range-checks the rest,
// clamping out-of-range numeric fields to defaults. A key field that is
// not valid base64, a buyer key too short to carry its 8-byte id, and a
// buyer public/private key id mismatch each return an error.
func (c *Config) Validate() error {
	if c.SocketSendBufferSize <= 0 {
		c.SocketSendBufferSize = 1024 * 1024
	}
	if c.SocketReceiveBufferSize <= 0 {
		c.SocketReceiveBufferSize = 1024 * 1024
	}
	if c.LogLevel < 0 || c.LogLevel > 5 {
		c.LogLevel = 2
	}

	if c.BuyerPublicKeyBase64 != "" {
		pub, err := base64.StdEncoding.DecodeString(c.BuyerPublicKeyBase64)
		if err != nil {
			return fmt.Errorf("accel: decode buyer public key: %w", err)
		}
		c.BuyerPublicKey = pub
	}
	if c.BuyerPrivateKeyBase64 != "" {
		priv, err := base64.StdEncoding.DecodeString(c.BuyerPrivateKeyBase64)
		if err != nil {
			return fmt.Errorf("accel: decode buyer private key: %w", err)
		}
		c.BuyerPrivateKey = priv
	}

	if len(c.BuyerPublicKey) > 0 && len(c.BuyerPrivateKey) > 0 {
		pubID, err := buyerIDFromKey(c.BuyerPublicKey)
		if err != nil {
			return err
		}
		privID, err := buyerIDFromKey(c.BuyerPrivateKey)
		if err != nil {
			return err
		}
		if subtle.ConstantTimeCompare(pubID[:], privID[:]) != 1 {
			return fmt.Errorf("accel: buyer public/private key id mismatch, pair invalidated")
		}
	}

	return nil
}

// Fingerprint returns a short diagnostic hash of the loaded config,
// logged once at startup so two running instances can be compared
// without printing key material. This never touches the wire protocol:
// FNV-1a-64 remains the only hash the gauntlet itself uses.
func (c *Config) Fingerprint() string {
	h := blake3.New(8, nil)
	fmt.Fprintf(h, "%+v", *c)
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
