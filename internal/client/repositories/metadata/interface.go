// Package metadata stores small key/value facts about the local account,
// such as the user id behind the API key and whether the file store was
// verified.
package metadata

import (
	"context"
)

// Well-known keys.
const (
	KeyUserID         = "user_id"
	KeyUsername       = "username"
	KeyLastSync       = "last_sync"
	KeyWebDAVVerified = "webdav_verified"
)

type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	GetInt(ctx context.Context, key string) (int64, bool, error)
	SetInt(ctx context.Context, key string, value int64) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error
}
