// Package cli wires configuration, the local store, the API client, the
// attachment transport and the decision maker into the refsync command.
//
// App.Run starts one session, or keeps syncing on a fixed interval until its
// context is canceled. A summary of every session is written to the output
// writer given to NewApp.
package cli
