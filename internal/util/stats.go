// Package util provides shared logging and traffic accounting.
package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide circuit traffic counter.
var Stats = &stats{}

type stats struct {
	PacketsSent atomic.Int64 // datagrams written to the socket
	PacketsRecv atomic.Int64 // datagrams accepted off the socket
	BytesSent   atomic.Int64 // cumulative bytes written
	BytesRecv   atomic.Int64 // cumulative bytes read
	Resends     atomic.Int64 // reliable packets retransmitted
	Duplicates  atomic.Int64 // inbound datagrams dropped as duplicates
	Malformed   atomic.Int64 // inbound datagrams dropped as undecodable
}

func (s *stats) AddSent(n int) { s.PacketsSent.Add(1); s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int) { s.PacketsRecv.Add(1); s.BytesRecv.Add(int64(n)) }
func (s *stats) AddResend()    { s.Resends.Add(1) }
func (s *stats) AddDuplicate() { s.Duplicates.Add(1) }
func (s *stats) AddMalformed() { s.Malformed.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevResends int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				resends := Stats.Resends.Load()

				outS := float64(sent-prevSent) / 10.0
				inS := float64(recv-prevRecv) / 10.0
				re := resends - prevResends

				if inS > 10 || outS > 10 || re > 0 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, re))
				}

				prevSent = sent
				prevRecv = recv
				prevResends = resends

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, resends int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Resent: %d",
		formatBytes(inS),
		formatBytes(outS),
		resends,
	)
}
