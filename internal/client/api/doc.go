// Package api talks to the versioned REST backend. Every read and write
// reports the library version the server answered with, and optimistic
// concurrency failures surface as ErrPreconditionFailed.
package api
