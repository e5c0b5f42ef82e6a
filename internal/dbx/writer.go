package dbx

import (
	"context"
	"database/sql"
	"sync"
)

// Writer serializes every mutation of the local store through one logical
// writer. Each call runs in its own short transaction; callers must not
// perform network I/O inside fn.
type Writer struct {
	mu sync.Mutex
	db *sql.DB
}

// NewWriter returns a Writer over db.
func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// Do runs fn inside a transaction while holding the writer lock.
func (w *Writer) Do(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WithTx(ctx, w.db, nil, fn)
}
