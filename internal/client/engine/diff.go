package engine

import (
	"slices"

	"github.com/dmitrijs2005/refsync/internal/client/models"
)

// DiffResult classifies keys of one kind after a version listing.
type DiffResult struct {
	UpToDate []string
	// Download holds keys newer remotely, unknown locally, or waiting for a re-fetch.
	Download []string
	// Missing holds clean local keys absent from a full listing.
	Missing []string
	// ConflictingDeletes holds keys with local edits absent from a full listing.
	// They stay queued for upload.
	ConflictingDeletes []string
}

// Diff compares local states with a remote key->version listing. Absence
// from the listing only means something when full is set.
func Diff(local map[string]models.LocalState, remote map[string]int64, full bool) DiffResult {
	var res DiffResult
	for key, version := range remote {
		st, ok := local[key]
		switch {
		case !ok, version > st.Version:
			res.Download = append(res.Download, key)
		case refetch(st):
			res.Download = append(res.Download, key)
		default:
			res.UpToDate = append(res.UpToDate, key)
		}
	}
	for key, st := range local {
		if _, ok := remote[key]; ok {
			continue
		}
		switch {
		case full && st.Pending:
			res.ConflictingDeletes = append(res.ConflictingDeletes, key)
		case refetch(st):
			// placeholders are never recreated from empty data
			res.Download = append(res.Download, key)
		case full:
			res.Missing = append(res.Missing, key)
		}
	}
	slices.Sort(res.UpToDate)
	slices.Sort(res.Download)
	slices.Sort(res.Missing)
	slices.Sort(res.ConflictingDeletes)
	return res
}

// refetch reports records that are queued for download in every session:
// placeholders and failed downloads.
func refetch(st models.LocalState) bool {
	return st.State != models.SyncStateSynced && !st.Pending
}

func statesByKey(states []models.LocalState) map[string]models.LocalState {
	m := make(map[string]models.LocalState, len(states))
	for _, st := range states {
		m[st.Key] = st
	}
	return m
}
