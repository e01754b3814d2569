package config

import "time"

// Protocol and deployment defaults. Every value can be overridden by the
// config file, WAGOO_* environment variables or CLI flags.
const (
	DefaultScheme         = "wagoo"
	DefaultServiceName    = "wagoo-desktop"
	DefaultPairingPort    = 9876
	DefaultDiscoveryPort  = 9877
	DefaultDevURL         = "http://localhost:3000"
	DefaultProdURL        = "https://app.wagoo.app"
	DefaultMaxConnections = 10
	DefaultRateLimitMax   = 100
	DefaultLogLevel       = "info"

	DefaultRateLimitWindow   = 60 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultConnectionTimeout = 10 * time.Second
)

// Environment names accepted by WAGOO_ENV / environment.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)
