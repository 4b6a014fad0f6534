package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dTable/lib/catalog"
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a dTable server.
type ServerConfig struct {
	// HTTP api settings
	Endpoint      string
	TimeoutSecond int64

	// Logging configuration
	LogLevel string

	// Storage
	DataDir string

	// Catalog parameters
	IdleThresholdSec  int64 // idle time after which a collection is evicted
	SweepPeriodSec    int64 // time between two eviction sweeps
	SaveCooldownSec   int64 // minimum time between two saves of a collection
	QuiesceIntervalMs int64 // poll interval while waiting for running operations
	QuiesceRetries    int   // polls before giving up
	FlushOnShutdown   bool
}

// ToCatalogConfig converts the ServerConfig to a catalog configuration.
// Zero values keep the catalog defaults.
func (c *ServerConfig) ToCatalogConfig() catalog.Config {
	cfg := catalog.DefaultConfig(c.DataDir)
	if c.IdleThresholdSec > 0 {
		cfg.IdleThreshold = time.Duration(c.IdleThresholdSec) * time.Second
	}
	if c.SweepPeriodSec > 0 {
		cfg.SweepPeriod = time.Duration(c.SweepPeriodSec) * time.Second
	}
	if c.SaveCooldownSec > 0 {
		cfg.SaveCooldown = time.Duration(c.SaveCooldownSec) * time.Second
	}
	if c.QuiesceIntervalMs > 0 {
		cfg.QuiesceInterval = time.Duration(c.QuiesceIntervalMs) * time.Millisecond
	}
	if c.QuiesceRetries > 0 {
		cfg.QuiesceRetries = c.QuiesceRetries
	}
	cfg.FlushOnShutdown = c.FlushOnShutdown
	return cfg
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Storage
	addSection("Storage")
	addField("Data Directory", c.DataDir)
	addField("Flush On Shutdown", strconv.FormatBool(c.FlushOnShutdown))

	// Catalog
	cfg := c.ToCatalogConfig()
	addSection("Catalog")
	addField("Idle Threshold", cfg.IdleThreshold.String())
	addField("Sweep Period", cfg.SweepPeriod.String())
	addField("Save Cooldown", cfg.SaveCooldown.String())
	addField("Quiesce Interval", cfg.QuiesceInterval.String())
	addField("Quiesce Retries", strconv.Itoa(cfg.QuiesceRetries))

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints     []string
	TimeoutSecond int
	RetryCount    int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(int(math.Max(1, float64(c.RetryCount)))))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
