package config

import "time"

// File sync modes.
const (
	FileSyncOff    = "off"
	FileSyncZotero = "zotero"
	FileSyncWebDAV = "webdav"
	FileSyncS3     = "s3"
)

// Config holds runtime settings for the refsync client.
//
// Units: RequestTimeout, SyncInterval and ConflictDelays are time.Duration
// values. A zero SyncInterval runs a single session.
type Config struct {
	APIURL string
	APIKey string

	DatabaseDSN string
	DataDir     string
	SchemaFile  string

	FileSync          string
	WebDAVURL         string
	WebDAVUser        string
	WebDAVPassword    string
	S3Endpoint        string
	S3Region          string
	S3Bucket          string
	S3AccessKey       string
	S3SecretKey       string
	S3Prefix          string
	BackgroundUploads bool

	DownloadBatchSize   int
	WriteBatchSize      int
	DownloadConcurrency int
	RequestTimeout      time.Duration
	ConflictDelays      []time.Duration
	MaxRetries          int

	LogLevel string
	LogJSON  bool
	LogFile  string

	SyncInterval time.Duration
	Full         bool
	Libraries    []string
	Unattended   bool
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.APIURL = "https://api.zotero.org"
	c.DatabaseDSN = "refsync.db"
	c.DataDir = "storage"
	c.FileSync = FileSyncZotero
	c.DownloadBatchSize = 50
	c.WriteBatchSize = 50
	c.DownloadConcurrency = 4
	c.RequestTimeout = 30 * time.Second
	c.ConflictDelays = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second}
	c.MaxRetries = 5
	c.LogLevel = "info"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
