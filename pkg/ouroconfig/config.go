// Package ouroconfig holds the YAML-loaded configuration for a node:
// network magic, promotion-policy tuning, and dial targets.
package ouroconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// NodeConfiguration is the top-level config document.
type NodeConfiguration struct {
	// NetworkMagic identifies the chain this node participates in.
	NetworkMagic uint64 `yaml:"NetworkMagic"`
	// N2NMinVersion/N2NMaxVersion bound the node-to-node handshake
	// versions this node will propose or accept.
	N2NMinVersion uint64 `yaml:"N2NMinVersion"`
	N2NMaxVersion uint64 `yaml:"N2NMaxVersion"`
	// ListenAddr is where the responder side accepts inbound peers.
	ListenAddr string `yaml:"ListenAddr"`
	// SeedList holds dial addresses loaded from the config file. No
	// code in this module reads it; cold peers are added only through
	// CmdIncludePeer.
	SeedList []string `yaml:"SeedList"`

	Promotion PromotionConfiguration `yaml:"Promotion"`

	// MaxConnectionsPerSourceAddr caps concurrent inbound connections
	// the responder will accept from a single remote address.
	MaxConnectionsPerSourceAddr int `yaml:"MaxConnectionsPerSourceAddr"`

	// DialTimeout bounds how long an outbound connection attempt may
	// take before it is abandoned.
	DialTimeout time.Duration `yaml:"DialTimeout"`
	// KeepAliveInterval is how often the keep-alive mini-protocol
	// pings an established peer.
	KeepAliveInterval time.Duration `yaml:"KeepAliveInterval"`
}

// PromotionConfiguration tunes the promotion sub-behavior's tier
// sizes.
type PromotionConfiguration struct {
	MaxPeers    int `yaml:"MaxPeers"`
	MaxWarmPeers int `yaml:"MaxWarmPeers"`
	MaxHotPeers  int `yaml:"MaxHotPeers"`
}

// DefaultPromotionConfiguration mirrors spec.md §4.6's defaults.
func DefaultPromotionConfiguration() PromotionConfiguration {
	return PromotionConfiguration{MaxPeers: 50, MaxWarmPeers: 5, MaxHotPeers: 3}
}

// Default returns a NodeConfiguration usable for local development.
func Default() NodeConfiguration {
	return NodeConfiguration{
		N2NMinVersion:               7,
		N2NMaxVersion:               13,
		ListenAddr:                  "0.0.0.0:3001",
		Promotion:                   DefaultPromotionConfiguration(),
		MaxConnectionsPerSourceAddr: 3,
		DialTimeout:                 10 * time.Second,
		KeepAliveInterval:           20 * time.Second,
	}
}

// Load reads and parses a YAML config file at path, filling in
// defaults for anything unset.
func Load(path string) (NodeConfiguration, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("ouroconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("ouroconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}
