package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/refsync/internal/flagx"
)

var knownFlags = []string{
	"-u", "-k", "-d", "-s", "-f", "-i", "-l", "-b",
	"-full", "-y", "-log-level", "-log-json", "-log-file", "-background",
	"-webdav-url", "-webdav-user", "-webdav-password",
	"-s3-endpoint", "-s3-region", "-s3-bucket", "-s3-prefix",
}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-u string   API base URL
//	-k string   API key
//	-d string   database DSN
//	-s string   attachment data directory
//	-f string   file sync mode: off, zotero, webdav, s3
//	-i int      sync interval in seconds, 0 runs once
//	-l string   comma separated libraries, e.g. users/1,groups/7
//	-b int      write batch size
//	-full       run a full session
//	-y          never prompt, resolve conflicts with the unattended policy
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.APIURL, "u", cfg.APIURL, "API base URL")
	fs.StringVar(&cfg.APIKey, "k", cfg.APIKey, "API key")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "database DSN")
	fs.StringVar(&cfg.DataDir, "s", cfg.DataDir, "attachment data directory")
	fs.StringVar(&cfg.FileSync, "f", cfg.FileSync, "file sync mode (off, zotero, webdav, s3)")
	interval := fs.Int("i", int(cfg.SyncInterval.Seconds()), "sync interval (in seconds), 0 runs once")
	libraries := fs.String("l", strings.Join(cfg.Libraries, ","), "comma separated libraries to sync")
	fs.IntVar(&cfg.WriteBatchSize, "b", cfg.WriteBatchSize, "write batch size")
	fs.BoolVar(&cfg.Full, "full", cfg.Full, "run a full session")
	fs.BoolVar(&cfg.Unattended, "y", cfg.Unattended, "never prompt")
	fs.BoolVar(&cfg.BackgroundUploads, "background", cfg.BackgroundUploads, "upload attachment files in the background")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "log as JSON")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "rotated log file, stderr when empty")

	fs.StringVar(&cfg.WebDAVURL, "webdav-url", cfg.WebDAVURL, "WebDAV base URL")
	fs.StringVar(&cfg.WebDAVUser, "webdav-user", cfg.WebDAVUser, "WebDAV user")
	fs.StringVar(&cfg.WebDAVPassword, "webdav-password", cfg.WebDAVPassword, "WebDAV password")

	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "S3 endpoint")
	fs.StringVar(&cfg.S3Region, "s3-region", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "S3 bucket")
	fs.StringVar(&cfg.S3Prefix, "s3-prefix", cfg.S3Prefix, "key prefix inside the bucket")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.SyncInterval = time.Duration(*interval) * time.Second
	cfg.Libraries = flagx.SplitList(*libraries)
}
