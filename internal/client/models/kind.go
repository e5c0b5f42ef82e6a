package models

// Kind is one of the object collections a library syncs.
type Kind string

const (
	KindCollection Kind = "collection"
	KindSearch     Kind = "search"
	KindItem       Kind = "item"
	KindTrash      Kind = "trash"
	KindSettings   Kind = "settings"
)

// SyncKinds lists the object kinds in download order: containers first so
// items can resolve their collections.
var SyncKinds = []Kind{KindCollection, KindSearch, KindItem, KindTrash}

// WriteKinds lists the kinds that are uploaded, in upload order.
var WriteKinds = []Kind{KindCollection, KindSearch, KindItem}

// Stored maps a kind to the kind its records are stored under: trash is a
// view over items.
func (k Kind) Stored() Kind {
	if k == KindTrash {
		return KindItem
	}
	return k
}

// Plural is the REST collection name of the kind.
func (k Kind) Plural() string {
	switch k {
	case KindCollection:
		return "collections"
	case KindSearch:
		return "searches"
	case KindItem, KindTrash:
		return "items"
	default:
		return string(k)
	}
}

func (k Kind) Valid() bool {
	switch k {
	case KindCollection, KindSearch, KindItem, KindTrash, KindSettings:
		return true
	default:
		return false
	}
}
