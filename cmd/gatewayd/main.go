// Command gatewayd runs the API gateway as a standalone process,
// wiring circuit breakers, the multi-level cache, the load balancer,
// the middleware pipeline, the orchestrator, and the event bus
// together with go.uber.org/fx.
package main

import (
	"log"
	"time"

	"go.uber.org/fx"

	"github.com/iruldev/apigatewaycore/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	app := fx.New(
		Module,
		fx.StartTimeout(10*time.Second),
		fx.StopTimeout(cfg.ShutdownDrainPeriod+cfg.ShutdownGracePeriod+5*time.Second),
	)

	// Run blocks until SIGINT/SIGTERM, then drives every OnStop hook
	// (admin server drain, gateway stop, cache/sqlite/redis close,
	// tracer flush) within StopTimeout.
	app.Run()
}
