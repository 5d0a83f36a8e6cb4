package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/iruldev/apigatewaycore/internal/gateway"
)

// providerFile is the on-disk shape of one entry in the providers
// config file, grounded in the original's `setup_default_providers`
// and its seconds-suffixed duration fields.
type providerFile struct {
	Name              string            `json:"name"`
	BaseURL           string            `json:"base_url"`
	APIKey            string            `json:"api_key"`
	APIKeyHeader      string            `json:"api_key_header"`
	APIKeyPrefix      string            `json:"api_key_prefix"`
	TimeoutSeconds    float64           `json:"timeout_seconds"`
	RetryAttempts     int               `json:"retry_attempts"`
	RetryDelaySeconds float64           `json:"retry_delay_seconds"`
	CacheTTLSeconds   float64           `json:"cache_ttl_seconds"`
	Weight            int               `json:"weight"`
	Priority          int               `json:"priority"`
	Headers           map[string]string `json:"headers"`
	Disabled          bool              `json:"disabled"`
}

// loadProviders reads a JSON array of provider definitions from path
// and registers each with gw. An empty path is not an error - a
// gateway can start with zero providers; later ones can only be added
// in-process through Gateway.RegisterProvider.
func loadProviders(path string, gw *gateway.Gateway) error {
	if path == "" {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load providers: read %s: %w", path, err)
	}

	var entries []providerFile
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("load providers: parse %s: %w", path, err)
	}

	for _, e := range entries {
		spec := gateway.ProviderSpec{
			Name:           e.Name,
			BaseURL:        e.BaseURL,
			APIKey:         e.APIKey,
			APIKeyHeader:   e.APIKeyHeader,
			APIKeyPrefix:   e.APIKeyPrefix,
			Timeout:        durationFromSeconds(e.TimeoutSeconds),
			RetryAttempts:  e.RetryAttempts,
			RetryBaseDelay: durationFromSeconds(e.RetryDelaySeconds),
			CacheTTL:       durationFromSeconds(e.CacheTTLSeconds),
			Weight:         e.Weight,
			Priority:       e.Priority,
			Headers:        e.Headers,
			Disabled:       e.Disabled,
		}
		if err := gw.RegisterProvider(spec); err != nil {
			return fmt.Errorf("load providers: register %s: %w", e.Name, err)
		}
	}
	return nil
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
