package models

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Payload is the kind-specific part of a record. The concrete types are
// *CollectionPayload, *SearchPayload and *ItemPayload.
type Payload interface {
	payloadKind() Kind
}

type CollectionPayload struct {
	Name string `json:"name"`
}

func (*CollectionPayload) payloadKind() Kind { return KindCollection }

// Condition is one saved search rule.
type Condition struct {
	Condition string `json:"condition"`
	Operator  string `json:"operator"`
	Value     string `json:"value"`
}

type SearchPayload struct {
	Name       string      `json:"name"`
	Conditions []Condition `json:"conditions"`
}

func (*SearchPayload) payloadKind() Kind { return KindSearch }

type Creator struct {
	CreatorType string `json:"creatorType"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Name        string `json:"name,omitempty"`
}

type ItemTag struct {
	Tag  string `json:"tag"`
	Type int    `json:"type,omitempty"`
}

// AnnotationPosition is the decoded position of an annotation on a page:
// rectangles as [x1, y1, x2, y2] or ink paths as flat x,y sequences.
type AnnotationPosition struct {
	PageIndex int          `json:"pageIndex"`
	Rects     [][4]float64 `json:"rects,omitempty"`
	Paths     [][]float64  `json:"paths,omitempty"`
	LineWidth float64      `json:"lineWidth,omitempty"`
}

// ItemPayload holds bibliographic fields and relations of an item.
type ItemPayload struct {
	ItemType string            `json:"itemType"`
	Fields   map[string]string `json:"fields"`

	// ChangedKeys lists the field names edited locally; only these are uploaded.
	ChangedKeys []string `json:"changedKeys,omitempty"`

	Creators    []Creator           `json:"creators,omitempty"`
	Tags        []ItemTag           `json:"tags,omitempty"`
	Collections []string            `json:"collections,omitempty"`
	Trash       bool                `json:"trash,omitempty"`
	Annotation  *AnnotationPosition `json:"annotation,omitempty"`

	// FileChanged marks an attachment whose file must be uploaded.
	FileChanged bool `json:"fileChanged,omitempty"`
}

func (*ItemPayload) payloadKind() Kind { return KindItem }

// Attachment field names and link modes.
const (
	FieldFilename    = "filename"
	FieldContentType = "contentType"
	FieldMD5         = "md5"
	FieldMtime       = "mtime"
	FieldLinkMode    = "linkMode"

	ItemTypeAttachment = "attachment"
	ItemTypeAnnotation = "annotation"

	LinkModeImportedFile = "imported_file"
	LinkModeImportedURL  = "imported_url"
	LinkModeLinkedFile   = "linked_file"
	LinkModeLinkedURL    = "linked_url"
)

// IsStoredFile reports whether the item is an attachment whose file lives in
// attachment storage and is synced.
func (p *ItemPayload) IsStoredFile() bool {
	if p.ItemType != ItemTypeAttachment {
		return false
	}
	lm := p.Fields[FieldLinkMode]
	return lm == LinkModeImportedFile || lm == LinkModeImportedURL
}

// SetField assigns a field and records it as locally changed.
func (p *ItemPayload) SetField(name, value string) {
	if p.Fields == nil {
		p.Fields = map[string]string{}
	}
	p.Fields[name] = value
	if !slices.Contains(p.ChangedKeys, name) {
		p.ChangedKeys = append(p.ChangedKeys, name)
	}
}

// HasCollection reports membership in collection key.
func (p *ItemPayload) HasCollection(key string) bool {
	return slices.Contains(p.Collections, key)
}

// RemoveCollection drops key from the membership list.
func (p *ItemPayload) RemoveCollection(key string) bool {
	i := slices.Index(p.Collections, key)
	if i < 0 {
		return false
	}
	p.Collections = slices.Delete(p.Collections, i, i+1)
	return true
}

// EmptyPayload returns the zero payload for a stored kind.
func EmptyPayload(k Kind) Payload {
	switch k.Stored() {
	case KindCollection:
		return &CollectionPayload{}
	case KindSearch:
		return &SearchPayload{}
	default:
		return &ItemPayload{Fields: map[string]string{}}
	}
}

// Envelope is the persisted form of a payload: the kind tag plus the JSON body.
type Envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Wrap encodes p into an Envelope.
func Wrap(p Payload) (Envelope, error) {
	if p == nil {
		return Envelope{}, fmt.Errorf("nil payload")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: p.payloadKind(), Data: b}, nil
}

// Unwrap decodes the payload named by the envelope kind.
func (e Envelope) Unwrap() (Payload, error) {
	switch e.Kind {
	case KindCollection:
		var v CollectionPayload
		return &v, json.Unmarshal(e.Data, &v)
	case KindSearch:
		var v SearchPayload
		return &v, json.Unmarshal(e.Data, &v)
	case KindItem, KindTrash:
		var v ItemPayload
		if err := json.Unmarshal(e.Data, &v); err != nil {
			return nil, err
		}
		if v.Fields == nil {
			v.Fields = map[string]string{}
		}
		return &v, nil
	default:
		return nil, fmt.Errorf("unknown payload kind %q", e.Kind)
	}
}
