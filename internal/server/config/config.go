// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the MediaVault server.
//
// Fields:
//   - EndpointAddrHTTP: bind address for the public HTTP API.
//   - VideoStorage / FileStorage: backend kind per upload category
//     ("local", "videohost", "docrelay", "s3").
//   - UploadRoot: directory for the local backend's managed files.
//   - TmpDir: scratch directory for multipart spooling.
//   - MaxUploadBytes: request body ceiling for the upload endpoints.
//   - SecretKey: HMAC secret for signing JWTs (HS256). Do not use test defaults in prod.
//   - TokenValidityDuration: access token lifetime.
//   - DatabaseDSN: PostgreSQL DSN for the audit trail; empty disables it.
//   - Video*: resumable video host settings.
//   - Relay*: bot-style document host settings.
//   - S3*: object storage settings.
type Config struct {
	EndpointAddrHTTP string

	VideoStorage   string
	FileStorage    string
	UploadRoot     string
	TmpDir         string
	MaxUploadBytes int64

	SecretKey             string
	TokenValidityDuration time.Duration

	DatabaseDSN string

	VideoUploadURL    string
	VideoWatchURLBase string
	VideoPrivacy      string
	VideoToken        string
	VideoTokenURL     string
	VideoClientID     string
	VideoClientSecret string
	VideoRefreshToken string

	RelayBaseURL     string
	RelayToken       string
	RelayChatID      int64
	RelayMaxFileSize int64

	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.EndpointAddrHTTP = ":8080"
	c.VideoStorage = "local"
	c.FileStorage = "local"
	c.UploadRoot = "uploads"
	c.TmpDir = "tmp"
	c.MaxUploadBytes = 2 << 30
	c.SecretKey = "secretKey"
	c.TokenValidityDuration = 60 * time.Minute
	c.VideoPrivacy = "unlisted"
	c.RelayMaxFileSize = 50 << 20
	c.S3Bucket = "media"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJSON(cfg)
	parseFlags(cfg)
	return cfg
}
