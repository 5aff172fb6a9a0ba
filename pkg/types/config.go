package types

import (
	"time"
)

// Mode constants for gateway operation
const (
	ModeLocal  = "local"  // No Redis/Postgres, in-memory repository
	ModeRemote = "remote" // Full infrastructure
)

// AppConfig is the root configuration for the mailsync gateway
type AppConfig struct {
	Mode       string `key:"mode" json:"mode"` // "local" or "remote"
	DebugMode  bool   `key:"debugMode" json:"debug_mode"`
	PrettyLogs bool   `key:"prettyLogs" json:"pretty_logs"`

	Database   DatabaseConfig   `key:"database" json:"database"`
	Gateway    GatewayConfig    `key:"gateway" json:"gateway"`
	OAuth      OAuthConfig      `key:"oauth" json:"oauth"`
	Graph      GraphConfig      `key:"graph" json:"graph"`
	Sync       SyncConfig       `key:"sync" json:"sync"`
	Webhooks   WebhookConfig    `key:"webhooks" json:"webhooks"`
	Encryption EncryptionConfig `key:"encryption" json:"encryption"`
	Events     EventsConfig     `key:"events" json:"events"`
}

// IsLocalMode returns true if running in local mode (no Redis/Postgres)
func (c *AppConfig) IsLocalMode() bool {
	return c.Mode == ModeLocal
}

// ----------------------------------------------------------------------------
// Database Configuration
// ----------------------------------------------------------------------------

type DatabaseConfig struct {
	Redis    RedisConfig    `key:"redis" json:"redis"`
	Postgres PostgresConfig `key:"postgres" json:"postgres"`
}

type RedisMode string

const (
	RedisModeSingle  RedisMode = "single"
	RedisModeCluster RedisMode = "cluster"
)

type RedisConfig struct {
	Mode               RedisMode     `key:"mode" json:"mode"`
	Addrs              []string      `key:"addrs" json:"addrs"`
	Username           string        `key:"username" json:"username"`
	Password           string        `key:"password" json:"password"`
	ClientName         string        `key:"clientName" json:"client_name"`
	EnableTLS          bool          `key:"enableTLS" json:"enable_tls"`
	InsecureSkipVerify bool          `key:"insecureSkipVerify" json:"insecure_skip_verify"`
	PoolSize           int           `key:"poolSize" json:"pool_size"`
	MinIdleConns       int           `key:"minIdleConns" json:"min_idle_conns"`
	MaxIdleConns       int           `key:"maxIdleConns" json:"max_idle_conns"`
	ConnMaxIdleTime    time.Duration `key:"connMaxIdleTime" json:"conn_max_idle_time"`
	ConnMaxLifetime    time.Duration `key:"connMaxLifetime" json:"conn_max_lifetime"`
	DialTimeout        time.Duration `key:"dialTimeout" json:"dial_timeout"`
	ReadTimeout        time.Duration `key:"readTimeout" json:"read_timeout"`
	WriteTimeout       time.Duration `key:"writeTimeout" json:"write_timeout"`
	MaxRedirects       int           `key:"maxRedirects" json:"max_redirects"`
	MaxRetries         int           `key:"maxRetries" json:"max_retries"`
	RouteByLatency     bool          `key:"routeByLatency" json:"route_by_latency"`
}

// IsConfigured returns true if at least one redis address is set
func (c RedisConfig) IsConfigured() bool {
	return len(c.Addrs) > 0 && c.Addrs[0] != ""
}

type PostgresConfig struct {
	Host            string        `key:"host" json:"host"`
	Port            int           `key:"port" json:"port"`
	User            string        `key:"user" json:"user"`
	Password        string        `key:"password" json:"password"`
	Database        string        `key:"database" json:"database"`
	SSLMode         string        `key:"sslMode" json:"ssl_mode"`
	MaxOpenConns    int           `key:"maxOpenConns" json:"max_open_conns"`
	MaxIdleConns    int           `key:"maxIdleConns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `key:"connMaxLifetime" json:"conn_max_lifetime"`
}

// ----------------------------------------------------------------------------
// Gateway Configuration
// ----------------------------------------------------------------------------

type GatewayConfig struct {
	HTTP            HTTPConfig    `key:"http" json:"http"`
	ShutdownTimeout time.Duration `key:"shutdownTimeout" json:"shutdown_timeout"`
	AuthSecret      string        `key:"authSecret" json:"auth_secret"` // HS256 secret for operator tokens
}

type HTTPConfig struct {
	Host             string     `key:"host" json:"host"`
	Port             int        `key:"port" json:"port"`
	EnablePrettyLogs bool       `key:"enablePrettyLogs" json:"enable_pretty_logs"`
	CORS             CORSConfig `key:"cors" json:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `key:"allowOrigins" json:"allow_origins"`
	AllowedMethods []string `key:"allowMethods" json:"allow_methods"`
	AllowedHeaders []string `key:"allowHeaders" json:"allow_headers"`
}

// ----------------------------------------------------------------------------
// OAuth Configuration
// ----------------------------------------------------------------------------

type OAuthConfig struct {
	Microsoft MicrosoftOAuthConfig `key:"microsoft" json:"microsoft"`
	// RefreshMargin is how long before expiry a token is treated as stale
	RefreshMargin time.Duration `key:"refreshMargin" json:"refresh_margin"`
	// SessionTTL bounds how long an authorization-code session stays pending
	SessionTTL time.Duration `key:"sessionTTL" json:"session_ttl"`
	// LockTTL is the lease of the distributed per-credential refresh lock
	LockTTL time.Duration `key:"lockTTL" json:"lock_ttl"`
}

type MicrosoftOAuthConfig struct {
	ClientID     string   `key:"clientId" json:"client_id"`
	ClientSecret string   `key:"clientSecret" json:"client_secret"`
	RedirectURL  string   `key:"redirectUrl" json:"redirect_url"` // e.g., http://localhost:1994/api/v1/oauth/callback
	Tenant       string   `key:"tenant" json:"tenant"`            // "common", "organizations" or a tenant id
	Scopes       []string `key:"scopes" json:"scopes"`
	// AuthorityURL overrides the identity platform host; used by tests
	AuthorityURL string `key:"authorityUrl" json:"authority_url"`
}

// IsConfigured returns true if the Microsoft OAuth app is configured
func (c MicrosoftOAuthConfig) IsConfigured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RedirectURL != ""
}

// ----------------------------------------------------------------------------
// Graph / Sync / Webhooks
// ----------------------------------------------------------------------------

type GraphConfig struct {
	BaseURL  string        `key:"baseUrl" json:"base_url"`
	Timeout  time.Duration `key:"timeout" json:"timeout"`
	PageSize int           `key:"pageSize" json:"page_size"`

	// Client-side request budget per credential
	RequestsPerSecond float64 `key:"requestsPerSecond" json:"requests_per_second"`
	Burst             int     `key:"burst" json:"burst"`
}

type SyncConfig struct {
	Enabled       bool          `key:"enabled" json:"enabled"`
	Interval      time.Duration `key:"interval" json:"interval"`
	InitialDelay  time.Duration `key:"initialDelay" json:"initial_delay"`
	FolderTimeout time.Duration `key:"folderTimeout" json:"folder_timeout"`
	PassTimeout   time.Duration `key:"passTimeout" json:"pass_timeout"`
	Concurrency   int           `key:"concurrency" json:"concurrency"`
	FullSyncLimit int           `key:"fullSyncLimit" json:"full_sync_limit"`
	PreviewLength int           `key:"previewLength" json:"preview_length"`
	LockTTL       time.Duration `key:"lockTTL" json:"lock_ttl"`
}

type WebhookConfig struct {
	NotificationURL string        `key:"notificationUrl" json:"notification_url"`
	ClientState     string        `key:"clientState" json:"client_state"`
	SubscriptionTTL time.Duration `key:"subscriptionTTL" json:"subscription_ttl"`
	RenewBefore     time.Duration `key:"renewBefore" json:"renew_before"`
	ProcessTimeout  time.Duration `key:"processTimeout" json:"process_timeout"`
	DedupeTTL       time.Duration `key:"dedupeTTL" json:"dedupe_ttl"`
	MaxBodyBytes    int64         `key:"maxBodyBytes" json:"max_body_bytes"`
	Concurrency     int           `key:"concurrency" json:"concurrency"` // batches processed at once
}

// SubscriptionsEnabled returns true when push notifications should be registered
func (c WebhookConfig) SubscriptionsEnabled() bool {
	return c.NotificationURL != ""
}

// EventsConfig controls the email.stored and email.deleted feed
type EventsConfig struct {
	Enabled bool  `key:"enabled" json:"enabled"`
	MaxLen  int64 `key:"maxLen" json:"max_len"` // approximate stream cap
}

type EncryptionConfig struct {
	Key string `key:"key" json:"-"` // base64, 32 bytes
}
