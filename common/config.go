package common

import "github.com/spf13/viper"

// ===============================================================================
// BTCPay Server Related Config

// BTCPayConfig defines parameters for reaching the upstream BTCPay Server
type BTCPayConfig struct {
	// DefaultServerURL is the BTCPay Server used when a client supplies no override
	DefaultServerURL string `mapstructure:"default_server_url" json:"default_server_url" validate:"required,url"`
	// CallTimeout is the max duration of one Greenfield API call in seconds
	CallTimeout int `mapstructure:"call_timeout_sec" json:"call_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// Websocket Hub Related Config

// HubConfig defines the websocket notification hub parameters
type HubConfig struct {
	// MaxConnections is the global ceiling on concurrent authenticated connections
	MaxConnections int `mapstructure:"max_connections" json:"max_connections" validate:"gte=1"`
	// HeartbeatInterval is the heartbeat supervisor period in seconds. A client
	// idle for more than twice this period is evicted.
	HeartbeatInterval int `mapstructure:"heartbeat_interval_sec" json:"heartbeat_interval_sec" validate:"gte=1"`
	// CleanupInterval is the stale connection sweep period in seconds
	CleanupInterval int `mapstructure:"cleanup_interval_sec" json:"cleanup_interval_sec" validate:"gte=1"`
	// SendBufferLen is the per-connection outbound frame buffer length
	SendBufferLen int `mapstructure:"send_buffer_len" json:"send_buffer_len" validate:"gte=1"`
}

// ===============================================================================
// Payment Event Source Related Config

// EventSourceConfig defines parameters for the optional NATS payment event feed.
// The feed is disabled when ServerURI is empty; payment events then arrive only
// through the webhook endpoint.
type EventSourceConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"omitempty,uri"`
	// Subject is the NATS subject carrying payment status events
	Subject string `mapstructure:"subject" json:"subject" validate:"required"`
	// ConnectTimeout is the max duration for connecting to NATS in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// MaxReconnectAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts" json:"max_reconnect_attempts" validate:"gte=-1"`
	// ReconnectWait is the duration between reconnect attempts in seconds
	ReconnectWait int `mapstructure:"reconnect_wait_sec" json:"reconnect_wait_sec" validate:"gte=1"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// GatewayEndpointConfig defines gateway API endpoint config
type GatewayEndpointConfig struct {
	// PathPrefix is the end-point path prefix for the gateway APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// GatewayServerConfig defines configuration for the gateway API server
type GatewayServerConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
	// Endpoints is the API endpoint config parameters for the gateway server
	Endpoints GatewayEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required,dive"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config for the gateway
type SystemConfig struct {
	// BTCPay are the upstream BTCPay Server related config parameters
	BTCPay BTCPayConfig `mapstructure:"btcpay" json:"btcpay" validate:"required,dive"`
	// Hub are the websocket notification hub configs
	Hub HubConfig `mapstructure:"hub" json:"hub" validate:"required,dive"`
	// Events are the payment event source configs
	Events EventSourceConfig `mapstructure:"events" json:"events" validate:"required,dive"`
	// Gateway are the gateway API server configs
	Gateway GatewayServerConfig `mapstructure:"gateway" json:"gateway" validate:"required,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default BTCPay settings
	viper.SetDefault("btcpay.default_server_url", "http://127.0.0.1:23000")
	viper.SetDefault("btcpay.call_timeout_sec", 30)

	// Default hub settings
	viper.SetDefault("hub.max_connections", 1000)
	viper.SetDefault("hub.heartbeat_interval_sec", 30)
	viper.SetDefault("hub.cleanup_interval_sec", 60)
	viper.SetDefault("hub.send_buffer_len", 64)

	// Default payment event source settings
	viper.SetDefault("events.server_uri", "")
	viper.SetDefault("events.subject", "payhub.payment.events")
	viper.SetDefault("events.connect_timeout_sec", 30)
	viper.SetDefault("events.max_reconnect_attempts", -1)
	viper.SetDefault("events.reconnect_wait_sec", 15)

	// Default gateway server settings
	viper.SetDefault("gateway.endpoint_config.path_prefix", "/")
	viper.SetDefault("gateway.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("gateway.server_config.listen_port", 3000)
	viper.SetDefault("gateway.server_config.read_timeout_sec", 60)
	viper.SetDefault("gateway.server_config.write_timeout_sec", 60)
	viper.SetDefault("gateway.server_config.idle_timeout_sec", 600)
	viper.SetDefault("gateway.logging_config.request_id_header", "Payhub-Request-ID")
	viper.SetDefault(
		"gateway.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
}
