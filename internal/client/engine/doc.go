// Package engine runs sync sessions between the local store and the remote
// API: it lists remote versions, downloads changed objects in batches,
// applies the deletion log, uploads local edits in dependency order and
// hands attachment files to a transport. Conflicts that need a decision are
// passed to a decisions.Maker through the Resolver.
package engine
