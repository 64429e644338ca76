// Copyright 2025 DocFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// TierTiming holds the latency window for one complexity tier, in seconds.
// MinSeconds is a reporting floor only; execution is never padded to reach it.
type TierTiming struct {
	MinSeconds    float64 `yaml:"min_seconds"`
	TargetSeconds float64 `yaml:"target_seconds"`
	MaxSeconds    float64 `yaml:"max_seconds"`
}

// ResourceLimits is the admission-control ceiling for Complex-tier runs.
type ResourceLimits struct {
	MaxConcurrentExecutors int     `yaml:"max_concurrent_executors"`
	MaxMemoryMB            int     `yaml:"max_memory_mb"`
	MaxCPUPercent          float64 `yaml:"max_cpu_percent"`
}

// AlertThresholds configures when the performance monitor raises alerts.
type AlertThresholds struct {
	LatencyMs     float64 `yaml:"latency_ms"`
	SuccessRate   float64 `yaml:"success_rate"`
	ResourceUsage float64 `yaml:"resource_usage"`
}

// CacheConfig bounds the focused router's result cache.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries"`
	TTLSeconds int `yaml:"ttl_seconds"`
}

// RetentionConfig bounds how long monitor state is kept.
type RetentionConfig struct {
	MetricsMinutes  int `yaml:"metrics_minutes"`
	PatternsMinutes int `yaml:"patterns_minutes"`
	AlertsMinutes   int `yaml:"alerts_minutes"`
}

// Config is the full configuration surface of the routing engine.
type Config struct {
	Port                   int                       `yaml:"port"`
	RedisURL               string                    `yaml:"redis_url"`
	Tiers                  map[string]TierTiming     `yaml:"tiers"`
	Resources              ResourceLimits            `yaml:"resources"`
	Alerts                 AlertThresholds           `yaml:"alerts"`
	OptimizationStrategy   string                    `yaml:"optimization_strategy"` // aggressive, conservative, balanced, adaptive
	Cache                  CacheConfig               `yaml:"cache"`
	Retention              RetentionConfig           `yaml:"retention"`
	MonitorIntervalSeconds int                       `yaml:"monitor_interval_seconds"`
	GroupTimeoutSeconds    int                       `yaml:"group_timeout_seconds"`
	MaxParallelLightweight int                       `yaml:"max_parallel_lightweight"`
}

// DefaultConfig returns the configuration used when no file is provided.
func DefaultConfig() *Config {
	return &Config{
		Port:     8081,
		RedisURL: "",
		Tiers: map[string]TierTiming{
			string(TierSimple):   {MinSeconds: 1.0, TargetSeconds: 1.5, MaxSeconds: 2.0},
			string(TierModerate): {MinSeconds: 2.0, TargetSeconds: 3.0, MaxSeconds: 4.0},
			string(TierComplex):  {MinSeconds: 3.0, TargetSeconds: 4.0, MaxSeconds: 5.0},
		},
		Resources: ResourceLimits{
			MaxConcurrentExecutors: 8,
			MaxMemoryMB:            2048,
			MaxCPUPercent:          80,
		},
		Alerts: AlertThresholds{
			LatencyMs:     5000,
			SuccessRate:   0.85,
			ResourceUsage: 0.9,
		},
		OptimizationStrategy: "balanced",
		Cache: CacheConfig{
			MaxEntries: 256,
			TTLSeconds: 300,
		},
		Retention: RetentionConfig{
			MetricsMinutes:  60,
			PatternsMinutes: 240,
			AlertsMinutes:   120,
		},
		MonitorIntervalSeconds: 30,
		GroupTimeoutSeconds:    30,
		MaxParallelLightweight: 2,
	}
}

// LoadConfig reads a YAML config file and applies environment overrides.
// A missing path returns defaults with overrides applied.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if strategy := os.Getenv("OPTIMIZATION_STRATEGY"); strategy != "" {
		cfg.OptimizationStrategy = strategy
	}
}

func (c *Config) validate() error {
	switch c.OptimizationStrategy {
	case "aggressive", "conservative", "balanced", "adaptive":
	default:
		return fmt.Errorf("%w: unknown optimization strategy %q", ErrValidation, c.OptimizationStrategy)
	}

	for tier, timing := range c.Tiers {
		if timing.MinSeconds > timing.MaxSeconds {
			return fmt.Errorf("%w: tier %s has min %.1fs above max %.1fs", ErrValidation, tier, timing.MinSeconds, timing.MaxSeconds)
		}
	}

	if c.Resources.MaxConcurrentExecutors <= 0 {
		return fmt.Errorf("%w: max_concurrent_executors must be positive", ErrValidation)
	}

	return nil
}

// TierWindow returns the latency window for a tier, falling back to the
// moderate window for unknown tiers.
func (c *Config) TierWindow(tier ComplexityTier) TierTiming {
	if timing, ok := c.Tiers[string(tier)]; ok {
		return timing
	}
	return c.Tiers[string(TierModerate)]
}
