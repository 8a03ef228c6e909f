// Gridlink — CLI entry point.
//
// This tool opens an LLUDP circuit to a simulator using the circuit
// code and session identity issued by a prior login exchange, keeps the
// circuit alive, and logs traffic. An optional inspector endpoint
// streams decoded packet summaries over WebSocket for debugging.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/pterm/pterm"

	"github.com/gridlink/gridlink/internal/circuit"
	"github.com/gridlink/gridlink/internal/config"
	"github.com/gridlink/gridlink/internal/inspector"
	"github.com/gridlink/gridlink/internal/protocol"
	"github.com/gridlink/gridlink/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	simAddr := flag.String("sim", "", "Simulator address (host:port)")
	code := flag.Uint("code", 0, "Circuit code issued at login")
	sessionID := flag.String("session", "", "Session UUID issued at login")
	agentID := flag.String("agent", "", "Agent UUID issued at login")
	configPath := flag.String("config", "", "Optional TOML transport config")
	inspectPort := flag.Int("inspect", 0, "Inspector WebSocket port (0 disables)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Gridlink — v%s", version))
	pterm.Println()

	if *simAddr == "" || *code == 0 {
		util.LogError("missing -sim or -code")
		os.Exit(1)
	}
	session, err := uuid.Parse(*sessionID)
	if err != nil {
		util.LogError("invalid -session: %v", err)
		os.Exit(1)
	}
	agent, err := uuid.Parse(*agentID)
	if err != nil {
		util.LogError("invalid -agent: %v", err)
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			util.LogError("%v", err)
			os.Exit(1)
		}
	}

	if err := run(ctx, cfg, *simAddr, uint32(*code), session, agent, *inspectPort); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Transport, simAddr string,
	code uint32, session, agent uuid.UUID, inspectPort int) error {

	// The manager outlives the interrupt signal so the logout drain can
	// finish; mgr.Close tears it down on the way out.
	mgr, err := circuit.NewManager(context.Background(), cfg, protocol.NewRegistry())
	if err != nil {
		return err
	}
	defer mgr.Close()

	mgr.OnState(func(c *circuit.Circuit, from, to circuit.State, reason circuit.CloseReason) {
		util.LogInfo("[%s] %s -> %s (%s)", c.Addr(), from, to, reason)
	})
	mgr.OnDeliveryFailure(func(c *circuit.Circuit, seq uint32) {
		util.LogWarning("[%s] delivery failure for seq %d", c.Addr(), seq)
	})
	mgr.SubscribeAll(func(c *circuit.Circuit, pkt *protocol.Packet) {
		util.LogDebug("[%s] %s seq=%d len=%d", c.Addr(), mgr.Registry().Name(pkt), pkt.Sequence, len(pkt.Body))
	})

	if inspectPort > 0 {
		tap := inspector.NewServer()
		if _, err := tap.Start(ctx, fmt.Sprintf("127.0.0.1:%d", inspectPort)); err != nil {
			return err
		}
		tap.Attach(mgr)
	}

	util.StartStatsReporter(ctx)

	c, err := mgr.OpenCircuit(simAddr, code, session, agent)
	if err != nil {
		return err
	}

	select {
	case <-c.Ready():
		util.LogInfo("[%s] handshake complete, rtt polling active", c.Addr())
	case <-c.Done():
		return fmt.Errorf("circuit closed before handshake: %s", c.Reason())
	case <-ctx.Done():
		return nil
	}

	// Stay up until the circuit dies or the user interrupts.
	select {
	case <-c.Done():
		util.LogInfo("[%s] circuit ended: %s", c.Addr(), c.Reason())
	case <-ctx.Done():
		util.LogInfo("logging out")
		c.Logout()
		<-c.Done()
	}
	return nil
}
