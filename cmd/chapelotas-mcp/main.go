// chapelotas-mcp exposes the chapelotas operations as MCP tools over stdio.
//
// It opens the same state directory as the daemon. Passes it runs dispatch
// through the notifications file (and Discord over REST when configured);
// wake-ups it schedules are picked up by the daemon's next heartbeat.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/chapelotas/internal/activity"
	"github.com/vthunder/chapelotas/internal/app"
	"github.com/vthunder/chapelotas/internal/eventbus"
	"github.com/vthunder/chapelotas/internal/logging"
	"github.com/vthunder/chapelotas/internal/mcp/tools"
)

func main() {
	env := app.LoadEnv()

	// stdout carries JSON-RPC, so logs go to a file or stderr
	closeLog, err := logging.Setup(env.LogLevel, env.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// passes run from tools land in the same journal as the daemon's
	journal := activity.New(env.StatePath)
	bus := eventbus.New(64)
	journal.Attach(bus)
	go bus.Start(ctx)

	dispatcher := env.RESTDispatcher()
	core, err := app.New(app.Config{
		StatePath:  env.StatePath,
		Dispatcher: dispatcher,
		Retractor:  dispatcher,
		Events:     bus,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open state: %v\n", err)
		os.Exit(1)
	}
	defer core.Close()

	s := server.NewMCPServer(
		"chapelotas",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	tools.RegisterAll(s, &tools.Dependencies{
		Ops:      core.Control,
		Activity: journal,
		OnToolCall: func(name string) {
			if err := core.ReloadSettings(); err != nil {
				logging.Warn("mcp", "reload settings: %v", err)
			}
		},
	})

	logging.Info("mcp", "serving %s over stdio", env.StatePath)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
