package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/flagx"
	"github.com/dmitrijs2005/mediavault/internal/timex"
)

// JSONConfig is the intermediate DTO used only for reading JSON configuration
// files. It uses timex.Duration for interval fields, which allows parsing
// both string values such as "1h" and integer nanoseconds. After
// unmarshalling, non-zero fields are copied into the runtime Config.
type JSONConfig struct {
	EndpointAddrHTTP string `json:"endpoint_addr_http"`

	VideoStorage   string `json:"video_storage"`
	FileStorage    string `json:"file_storage"`
	UploadRoot     string `json:"upload_root"`
	TmpDir         string `json:"tmp_dir"`
	MaxUploadBytes int64  `json:"max_upload_bytes"`

	SecretKey             string         `json:"secret_key"`
	TokenValidityDuration timex.Duration `json:"token_validity_duration"`

	DatabaseDSN string `json:"database_dsn"`

	VideoUploadURL    string `json:"video_upload_url"`
	VideoWatchURLBase string `json:"video_watch_url_base"`
	VideoPrivacy      string `json:"video_privacy"`
	VideoToken        string `json:"video_token"`
	VideoTokenURL     string `json:"video_token_url"`
	VideoClientID     string `json:"video_client_id"`
	VideoClientSecret string `json:"video_client_secret"`
	VideoRefreshToken string `json:"video_refresh_token"`

	RelayBaseURL     string `json:"relay_base_url"`
	RelayToken       string `json:"relay_token"`
	RelayChatID      int64  `json:"relay_chat_id"`
	RelayMaxFileSize int64  `json:"relay_max_file_size"`

	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
}

// parseJSON loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; when neither is set, no file is loaded. Unreadable or invalid files
// panic: a half-applied config is worse than a crash at startup.
func parseJSON(config *Config) {
	jsonConfigFile := flagx.JSONConfigFlag()
	if jsonConfigFile == "" {
		return
	}

	c := &JSONConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	overlayString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	overlayString(&config.VideoStorage, c.VideoStorage)
	overlayString(&config.FileStorage, c.FileStorage)
	overlayString(&config.UploadRoot, c.UploadRoot)
	overlayString(&config.TmpDir, c.TmpDir)
	overlayInt64(&config.MaxUploadBytes, c.MaxUploadBytes)
	overlayString(&config.SecretKey, c.SecretKey)
	if c.TokenValidityDuration.Duration > 0 {
		config.TokenValidityDuration = time.Duration(c.TokenValidityDuration.Duration)
	}
	overlayString(&config.DatabaseDSN, c.DatabaseDSN)
	overlayString(&config.VideoUploadURL, c.VideoUploadURL)
	overlayString(&config.VideoWatchURLBase, c.VideoWatchURLBase)
	overlayString(&config.VideoPrivacy, c.VideoPrivacy)
	overlayString(&config.VideoToken, c.VideoToken)
	overlayString(&config.VideoTokenURL, c.VideoTokenURL)
	overlayString(&config.VideoClientID, c.VideoClientID)
	overlayString(&config.VideoClientSecret, c.VideoClientSecret)
	overlayString(&config.VideoRefreshToken, c.VideoRefreshToken)
	overlayString(&config.RelayBaseURL, c.RelayBaseURL)
	overlayString(&config.RelayToken, c.RelayToken)
	if c.RelayChatID != 0 {
		config.RelayChatID = c.RelayChatID
	}
	overlayInt64(&config.RelayMaxFileSize, c.RelayMaxFileSize)
	overlayString(&config.S3AccessKey, c.S3AccessKey)
	overlayString(&config.S3SecretKey, c.S3SecretKey)
	overlayString(&config.S3Bucket, c.S3Bucket)
	overlayString(&config.S3Region, c.S3Region)
	overlayString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}

func overlayString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func overlayInt64(dst *int64, v int64) {
	if v > 0 {
		*dst = v
	}
}
