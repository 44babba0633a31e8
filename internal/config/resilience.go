package config

import (
	"time"

	"opsagent/internal/retry"
)

type ResilienceConfig struct {
	MonitorCycle retry.Config
	SheetRead    retry.Config
	SheetWrite   retry.Config
	LLMRequest   retry.Config
	Notify       retry.Config
}

var DefaultResilienceConfig = ResilienceConfig{
	MonitorCycle: retry.Config{
		Name:       "monitor cycle",
		MaxRetries: 0,
		Timeout:    45 * time.Second,
	},
	SheetRead: retry.Config{
		Name:       "sheet read",
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
		Timeout:    15 * time.Second,
	},
	SheetWrite: retry.Config{
		Name:       "sheet write",
		MaxRetries: 2,
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
		Timeout:    15 * time.Second,
	},
	// The webhook answers inline, so the model gets a single attempt.
	LLMRequest: retry.Config{
		Name:       "llm request",
		MaxRetries: 0,
		Timeout:    25 * time.Second,
	},
	Notify: retry.Config{
		Name:       "whatsapp alert",
		MaxRetries: 2,
		BaseDelay:  1 * time.Second,
		MaxDelay:   5 * time.Second,
		Timeout:    15 * time.Second,
	},
}
