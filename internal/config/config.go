// Package config holds the externally tunable transport parameters.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Transport carries every tunable the circuit layer exposes. Intervals
// are milliseconds in the file, matching the protocol family's
// convention; accessor methods convert to time.Duration.
type Transport struct {
	RetryIntervalMs    int64 `toml:"retry_interval_ms"`     // age before a reliable packet is resent
	MaxRetries         int   `toml:"max_retries"`           // resend attempts before giving up
	AckFlushIntervalMs int64 `toml:"ack_flush_interval_ms"` // idle flush of pending inbound acks
	PingIntervalMs     int64 `toml:"ping_interval_ms"`      // keep-alive probe cadence
	CircuitTimeoutMs   int64 `toml:"circuit_timeout_ms"`    // no inbound traffic for this long kills the circuit
	ConnectTimeoutMs   int64 `toml:"connect_timeout_ms"`    // handshake deadline while Connecting
	DedupWindow        int   `toml:"dedup_window"`          // recent inbound sequence numbers retained
	InboxSize          int   `toml:"inbox_size"`            // per-circuit dispatch channel capacity
}

// Default returns the documented defaults. Retry and flush cadences
// track typical internet RTT for this protocol family.
func Default() Transport {
	return Transport{
		RetryIntervalMs:    500,
		MaxRetries:         3,
		AckFlushIntervalMs: 500,
		PingIntervalMs:     5000,
		CircuitTimeoutMs:   30000,
		ConnectTimeoutMs:   10000,
		DedupWindow:        256,
		InboxSize:          128,
	}
}

// Load reads a TOML file over the defaults. Keys absent from the file
// keep their default values.
func Load(path string) (Transport, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Transport{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Transport{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Transport{}, err
	}
	return cfg, nil
}

// Validate rejects values the transport cannot operate with.
func (t Transport) Validate() error {
	if t.RetryIntervalMs <= 0 {
		return fmt.Errorf("retry_interval_ms must be positive, got %d", t.RetryIntervalMs)
	}
	if t.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1, got %d", t.MaxRetries)
	}
	if t.AckFlushIntervalMs <= 0 {
		return fmt.Errorf("ack_flush_interval_ms must be positive, got %d", t.AckFlushIntervalMs)
	}
	if t.PingIntervalMs <= 0 {
		return fmt.Errorf("ping_interval_ms must be positive, got %d", t.PingIntervalMs)
	}
	if t.CircuitTimeoutMs <= t.PingIntervalMs {
		return fmt.Errorf("circuit_timeout_ms (%d) must exceed ping_interval_ms (%d)",
			t.CircuitTimeoutMs, t.PingIntervalMs)
	}
	if t.DedupWindow < 1 {
		return fmt.Errorf("dedup_window must be at least 1, got %d", t.DedupWindow)
	}
	if t.InboxSize < 1 {
		return fmt.Errorf("inbox_size must be at least 1, got %d", t.InboxSize)
	}
	return nil
}

func (t Transport) RetryInterval() time.Duration {
	return time.Duration(t.RetryIntervalMs) * time.Millisecond
}

func (t Transport) AckFlushInterval() time.Duration {
	return time.Duration(t.AckFlushIntervalMs) * time.Millisecond
}

func (t Transport) PingInterval() time.Duration {
	return time.Duration(t.PingIntervalMs) * time.Millisecond
}

func (t Transport) CircuitTimeout() time.Duration {
	return time.Duration(t.CircuitTimeoutMs) * time.Millisecond
}

func (t Transport) ConnectTimeout() time.Duration {
	return time.Duration(t.ConnectTimeoutMs) * time.Millisecond
}
