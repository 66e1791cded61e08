package config

import "time"

// HTTP server timeouts
const (
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// WebSocket transport
const (
	WriteWait       = 10 * time.Second
	SendQueueSize   = 64
	HandshakeBuffer = 4096
)

// Redis publish timeout for lifecycle events
const RedisPublishTimeout = 2 * time.Second

// Window for the per-IP upgrade budget
const UpgradeRateLimitWindow = time.Minute
