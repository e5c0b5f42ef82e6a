package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/refsync/internal/flagx"
	"github.com/dmitrijs2005/refsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "3s" or as integer nanoseconds. Absent keys keep the value
// the Config already holds.
type JsonConfig struct {
	APIURL string `json:"api_url"`
	APIKey string `json:"api_key"`

	DatabaseDSN string `json:"database_dsn"`
	DataDir     string `json:"data_dir"`
	SchemaFile  string `json:"schema_file"`

	FileSync          string `json:"file_sync"`
	WebDAVURL         string `json:"webdav_url"`
	WebDAVUser        string `json:"webdav_user"`
	WebDAVPassword    string `json:"webdav_password"`
	S3Endpoint        string `json:"s3_endpoint"`
	S3Region          string `json:"s3_region"`
	S3Bucket          string `json:"s3_bucket"`
	S3AccessKey       string `json:"s3_access_key"`
	S3SecretKey       string `json:"s3_secret_key"`
	S3Prefix          string `json:"s3_prefix"`
	BackgroundUploads *bool  `json:"background_uploads"`

	DownloadBatchSize   int              `json:"download_batch_size"`
	WriteBatchSize      int              `json:"write_batch_size"`
	DownloadConcurrency int              `json:"download_concurrency"`
	RequestTimeout      timex.Duration   `json:"request_timeout"`
	ConflictDelays      []timex.Duration `json:"conflict_delays"`
	MaxRetries          *int             `json:"max_retries"`

	LogLevel string `json:"log_level"`
	LogJSON  *bool  `json:"log_json"`
	LogFile  string `json:"log_file"`

	SyncInterval timex.Duration `json:"sync_interval"`
	Full         *bool          `json:"full"`
	Libraries    []string       `json:"libraries"`
	Unattended   *bool          `json:"unattended"`
}

// parseJson overlays Config with values loaded from a JSON file selected
// with -c or -config. Without the flag nothing is loaded. Read and
// unmarshal errors panic.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.ConfigFile(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	jc.apply(cfg)
}

func (jc *JsonConfig) apply(cfg *Config) {
	setString(&cfg.APIURL, jc.APIURL)
	setString(&cfg.APIKey, jc.APIKey)
	setString(&cfg.DatabaseDSN, jc.DatabaseDSN)
	setString(&cfg.DataDir, jc.DataDir)
	setString(&cfg.SchemaFile, jc.SchemaFile)

	setString(&cfg.FileSync, jc.FileSync)
	setString(&cfg.WebDAVURL, jc.WebDAVURL)
	setString(&cfg.WebDAVUser, jc.WebDAVUser)
	setString(&cfg.WebDAVPassword, jc.WebDAVPassword)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	setString(&cfg.S3Prefix, jc.S3Prefix)
	setBool(&cfg.BackgroundUploads, jc.BackgroundUploads)

	setInt(&cfg.DownloadBatchSize, jc.DownloadBatchSize)
	setInt(&cfg.WriteBatchSize, jc.WriteBatchSize)
	setInt(&cfg.DownloadConcurrency, jc.DownloadConcurrency)
	if jc.RequestTimeout.Duration > 0 {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	if len(jc.ConflictDelays) > 0 {
		cfg.ConflictDelays = timex.Durations(jc.ConflictDelays)
	}
	if jc.MaxRetries != nil {
		cfg.MaxRetries = *jc.MaxRetries
	}

	setString(&cfg.LogLevel, jc.LogLevel)
	setBool(&cfg.LogJSON, jc.LogJSON)
	setString(&cfg.LogFile, jc.LogFile)

	if jc.SyncInterval.Duration > 0 {
		cfg.SyncInterval = jc.SyncInterval.Duration
	}
	setBool(&cfg.Full, jc.Full)
	if len(jc.Libraries) > 0 {
		cfg.Libraries = jc.Libraries
	}
	setBool(&cfg.Unattended, jc.Unattended)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
