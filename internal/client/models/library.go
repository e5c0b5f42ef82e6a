// Package models defines the client-side data model of the sync engine:
// libraries and their version counters, synced records with kind-specific
// payloads, tags, attachment uploads and conflicts.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// LibraryType distinguishes the personal library from group libraries.
type LibraryType string

const (
	LibraryTypeUser  LibraryType = "user"
	LibraryTypeGroup LibraryType = "group"
)

var ErrInvalidLibraryID = errors.New("library id must be users/<id> or groups/<id>")

// LibraryID identifies one independent sync scope.
type LibraryID struct {
	Type LibraryType
	ID   int64
}

func UserLibrary(userID int64) LibraryID { return LibraryID{Type: LibraryTypeUser, ID: userID} }

func GroupLibrary(groupID int64) LibraryID { return LibraryID{Type: LibraryTypeGroup, ID: groupID} }

// String renders the id as the REST path prefix, e.g. "users/12" or "groups/7".
func (l LibraryID) String() string {
	if l.Type == LibraryTypeGroup {
		return fmt.Sprintf("groups/%d", l.ID)
	}
	return fmt.Sprintf("users/%d", l.ID)
}

func (l LibraryID) IsGroup() bool { return l.Type == LibraryTypeGroup }

// ParseLibraryID is the inverse of LibraryID.String.
func ParseLibraryID(s string) (LibraryID, error) {
	prefix, rawID, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return LibraryID{}, ErrInvalidLibraryID
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return LibraryID{}, ErrInvalidLibraryID
	}
	switch prefix {
	case "users":
		return UserLibrary(id), nil
	case "groups":
		return GroupLibrary(id), nil
	default:
		return LibraryID{}, ErrInvalidLibraryID
	}
}

// Versions holds the last version the server reported per object collection.
type Versions struct {
	Collections int64
	Items       int64
	Trash       int64
	Searches    int64
	Settings    int64
	Deletions   int64
}

// Get returns the version tracked for k.
func (v Versions) Get(k Kind) int64 {
	switch k {
	case KindCollection:
		return v.Collections
	case KindItem:
		return v.Items
	case KindTrash:
		return v.Trash
	case KindSearch:
		return v.Searches
	case KindSettings:
		return v.Settings
	default:
		return 0
	}
}

// Set records version for k. Versions never move backwards.
func (v *Versions) Set(k Kind, version int64) {
	var p *int64
	switch k {
	case KindCollection:
		p = &v.Collections
	case KindItem:
		p = &v.Items
	case KindTrash:
		p = &v.Trash
	case KindSearch:
		p = &v.Searches
	case KindSettings:
		p = &v.Settings
	default:
		return
	}
	if version > *p {
		*p = version
	}
}

// SetDeletions advances the deletion log version.
func (v *Versions) SetDeletions(version int64) {
	if version > v.Deletions {
		v.Deletions = version
	}
}

// Max is the newest library version seen across all collections.
func (v Versions) Max() int64 {
	m := v.Deletions
	for _, x := range []int64{v.Collections, v.Items, v.Trash, v.Searches, v.Settings} {
		if x > m {
			m = x
		}
	}
	return m
}

// Library is a sync scope with its permissions and version counters.
type Library struct {
	ID           LibraryID
	Name         string
	CanEdit      bool
	CanEditFiles bool
	Versions     Versions

	// MetadataVersion is the group metadata version; zero for the personal library.
	MetadataVersion int64
}
