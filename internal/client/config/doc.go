// Package config loads runtime configuration for the refsync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-u string   API base URL
//	-k string   API key
//	-d string   database DSN
//	-s string   attachment data directory
//	-f string   file sync mode: off, zotero, webdav, s3
//	-i int      sync interval (seconds), 0 runs a single session
//	-l string   comma separated libraries (users/1,groups/7)
//	-full       run a full session
//	-y          never prompt
//
// Logging, WebDAV and S3 settings have long flags (-log-level, -webdav-url,
// -s3-bucket, ...); S3 keys are read from JSON only.
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "3s" or integer nanoseconds:
//
//	{
//	  "api_url": "https://api.zotero.org",
//	  "api_key": "...",
//	  "file_sync": "webdav",
//	  "webdav_url": "https://dav.example.org/refs",
//	  "request_timeout": "30s",
//	  "conflict_delays": ["2s", "5s", "10s"],
//	  "sync_interval": "5m"
//	}
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
