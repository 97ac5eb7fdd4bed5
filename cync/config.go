package cync

import (
	"fmt"
	"time"

	"github.com/pelletier/go-toml"
)

// FleetConfig describes a set of devices to connect to and the
// shared timeout/queue/dedup tuning they inherit, loaded from a TOML
// document.
//
//	p99_ack_latency_ms = 800
//	max_retries = 5
//	queue_capacity = 256
//	queue_policy = "drop_oldest"
//	dedup_max_size = 1000
//	dedup_ttl_seconds = 300
//
//	[devices.bulb-1]
//	addr = "192.168.1.42:23778"
//	auth_code = "deadbeef"
type FleetConfig struct {
	Timeouts      TimeoutConfig
	MaxRetries    uint32
	QueueCapacity int
	QueuePolicy   QueuePolicy
	DedupCacheCfg DedupCacheConfig
	Devices       map[string]*DeviceConfig
}

// DeviceConfig is a single device's connection parameters within a
// FleetConfig.
type DeviceConfig struct {
	Addr     string
	AuthCode string
}

func tomlInt(tree *toml.Tree, key string, def int64) int64 {
	if v, ok := tree.Get(key).(int64); ok {
		return v
	}
	return def
}

func tomlString(tree *toml.Tree, key string, def string) string {
	if v, ok := tree.Get(key).(string); ok {
		return v
	}
	return def
}

func toQueuePolicy(s string) (QueuePolicy, error) {
	switch s {
	case "", "block":
		return QueueBlock, nil
	case "drop_oldest":
		return QueueDropOldest, nil
	case "reject":
		return QueueReject, nil
	}
	return 0, fmt.Errorf("cync: unknown queue policy %q", s)
}

// LoadFleetConfig parses a TOML document describing a device fleet.
func LoadFleetConfig(data []byte) (*FleetConfig, error) {
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("cync: parse config: %w", err)
	}

	p99 := tomlInt(tree, "p99_ack_latency_ms", 800)
	policy, err := toQueuePolicy(tomlString(tree, "queue_policy", "block"))
	if err != nil {
		return nil, err
	}

	cfg := &FleetConfig{
		Timeouts:      NewTimeoutConfig(time.Duration(p99) * time.Millisecond),
		MaxRetries:    uint32(tomlInt(tree, "max_retries", 5)),
		QueueCapacity: int(tomlInt(tree, "queue_capacity", 256)),
		QueuePolicy:   policy,
		DedupCacheCfg: DedupCacheConfig{
			MaxSize: int(tomlInt(tree, "dedup_max_size", 1000)),
			TTL:     time.Duration(tomlInt(tree, "dedup_ttl_seconds", 300)) * time.Second,
		},
		Devices: make(map[string]*DeviceConfig),
	}

	devicesTree, ok := tree.Get("devices").(*toml.Tree)
	if !ok {
		return cfg, nil
	}
	for _, deviceID := range devicesTree.Keys() {
		dt, ok := devicesTree.Get(deviceID).(*toml.Tree)
		if !ok {
			return nil, fmt.Errorf("cync: device %q: expected a table", deviceID)
		}
		addr, ok := dt.Get("addr").(string)
		if !ok || addr == "" {
			return nil, fmt.Errorf("cync: device %q: missing addr", deviceID)
		}
		authCode, _ := dt.Get("auth_code").(string)
		cfg.Devices[deviceID] = &DeviceConfig{Addr: addr, AuthCode: authCode}
	}
	return cfg, nil
}
