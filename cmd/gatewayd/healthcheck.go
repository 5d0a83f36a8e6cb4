package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/iruldev/apigatewaycore/internal/events"
	"github.com/iruldev/apigatewaycore/internal/gateway"
)

// providerPing builds the balancer's background health-check
// callback: a lightweight GET against the provider's base URL,
// independent of the circuit breaker so a provider can be observed
// recovering even while its breaker is open. A failed probe publishes
// the §6 minimum-set `health.check.failed` event.
func providerPing(gw *gateway.Gateway, bus *events.Bus) func(string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	return func(name string) error {
		spec, ok := gw.Provider(name)
		if !ok || spec.Disabled {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.BaseURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			if bus != nil {
				bus.Emit(events.TypeHealthCheckFailed, map[string]any{"provider": name, "error": err.Error()}, "gateway", events.PriorityHigh)
			}
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			pingErr := fmt.Errorf("provider %s ping: status %d", name, resp.StatusCode)
			if bus != nil {
				bus.Emit(events.TypeHealthCheckFailed, map[string]any{"provider": name, "status_code": resp.StatusCode}, "gateway", events.PriorityHigh)
			}
			return pingErr
		}
		return nil
	}
}
