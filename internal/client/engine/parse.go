package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/refsync/internal/client/models"
)

// Schema validates item types and fields of downloaded items.
type Schema interface {
	IsKnownType(itemType string) bool
	IsKnownField(itemType, field string) bool
	Fields(itemType string) []string
}

// keys of item data that are not bibliographic fields
var notFieldKeys = map[string]bool{
	"creators": true, "itemType": true, "version": true, "key": true, "tags": true,
	"collections": true, "relations": true, "dateAdded": true, "dateModified": true,
	"parentItem": true, "deleted": true, "inPublications": true,
}

var searchOperators = map[string]bool{
	"is": true, "isNot": true, "contains": true, "doesNotContain": true,
	"isLessThan": true, "isGreaterThan": true, "isBefore": true, "isAfter": true,
	"isInTheLast": true, "beginsWith": true,
}

type rawObject struct {
	Key     string          `json:"key"`
	Version *int64          `json:"version"`
	Library *rawLibrary     `json:"library"`
	Data    json.RawMessage `json:"data"`
}

type rawLibrary struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// parsedObject is a downloaded object plus the references it makes.
type parsedObject struct {
	Record *models.Record
	Tags   []string
}

// parseObject decodes one object of kind as returned by the API. Failures
// are *ParseError so the caller can mark the key and go on.
func parseObject(raw json.RawMessage, kind models.Kind, lib models.LibraryID, schema Schema) (*parsedObject, error) {
	var obj rawObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, &ParseError{Err: fmt.Errorf("%w: %w", ErrMissingField, err)}
	}
	fail := func(err error) (*parsedObject, error) {
		return nil, &ParseError{Key: obj.Key, Err: err}
	}
	switch {
	case obj.Key == "":
		return fail(fmt.Errorf("%w: key", ErrMissingField))
	case obj.Version == nil:
		return fail(fmt.Errorf("%w: version", ErrMissingField))
	case obj.Library == nil:
		return fail(fmt.Errorf("%w: library", ErrMissingField))
	case len(obj.Data) == 0 || bytes.Equal(obj.Data, []byte("null")):
		return fail(fmt.Errorf("%w: data", ErrMissingField))
	}

	rec := &models.Record{
		Library: lib,
		Key:     obj.Key,
		Kind:    kind.Stored(),
		Version: *obj.Version,
		State:   models.SyncStateSynced,
	}
	out := &parsedObject{Record: rec}

	var err error
	switch kind.Stored() {
	case models.KindCollection:
		err = parseCollection(obj.Data, rec)
	case models.KindSearch:
		err = parseSearch(obj.Data, rec)
	case models.KindItem:
		out.Tags, err = parseItem(obj.Data, rec, schema)
	default:
		err = fmt.Errorf("kind %q has no objects", kind)
	}
	if err != nil {
		return fail(err)
	}
	return out, nil
}

func parseCollection(data json.RawMessage, rec *models.Record) error {
	var d struct {
		Name             string          `json:"name"`
		ParentCollection json.RawMessage `json:"parentCollection"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("%w: %w", ErrMissingField, err)
	}
	rec.ParentKey = keyOrFalse(d.ParentCollection)
	rec.Payload = &models.CollectionPayload{Name: d.Name}
	return nil
}

func parseSearch(data json.RawMessage, rec *models.Record) error {
	var d struct {
		Name       string             `json:"name"`
		Conditions []models.Condition `json:"conditions"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("%w: %w", ErrMissingField, err)
	}
	for _, c := range d.Conditions {
		if !searchOperators[c.Operator] {
			return fmt.Errorf("%w: %q", ErrUnknownOperator, c.Operator)
		}
	}
	rec.Payload = &models.SearchPayload{Name: d.Name, Conditions: d.Conditions}
	return nil
}

func parseItem(data json.RawMessage, rec *models.Record, schema Schema) ([]string, error) {
	var d map[string]json.RawMessage
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingField, err)
	}
	var itemType string
	if err := json.Unmarshal(d["itemType"], &itemType); err != nil || itemType == "" {
		return nil, fmt.Errorf("%w: itemType", ErrMissingField)
	}
	if !schema.IsKnownType(itemType) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownItemType, itemType)
	}

	it := &models.ItemPayload{ItemType: itemType, Fields: map[string]string{}}
	for name, raw := range d {
		if notFieldKeys[name] {
			continue
		}
		if !schema.IsKnownField(itemType, name) {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, itemType, name)
		}
		it.Fields[name] = fieldValue(raw)
	}

	if raw, ok := d["creators"]; ok {
		if err := json.Unmarshal(raw, &it.Creators); err != nil {
			return nil, fmt.Errorf("creators: %w", err)
		}
	}
	if raw, ok := d["tags"]; ok {
		if err := json.Unmarshal(raw, &it.Tags); err != nil {
			return nil, fmt.Errorf("tags: %w", err)
		}
	}
	if raw, ok := d["collections"]; ok {
		if err := json.Unmarshal(raw, &it.Collections); err != nil {
			return nil, fmt.Errorf("collections: %w", err)
		}
	}
	it.Trash = truthy(d["deleted"])
	rec.ParentKey = keyOrFalse(d["parentItem"])

	if raw, ok := d["dateModified"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				rec.DateModified = t.UTC()
			}
		}
	}

	if itemType == models.ItemTypeAnnotation {
		pos, err := decodePosition(it.Fields["annotationPosition"])
		if err != nil {
			return nil, err
		}
		it.Annotation = pos
	}
	rec.Payload = it

	tags := make([]string, 0, len(it.Tags))
	for _, t := range it.Tags {
		tags = append(tags, t.Tag)
	}
	return tags, nil
}

// keyOrFalse reads a reference that the API encodes as a key or false.
func keyOrFalse(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

func truthy(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "true", "1", `"1"`, `"true"`:
		return true
	}
	return false
}

// fieldValue flattens a JSON field value to the string stored locally.
func fieldValue(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return strconv.FormatBool(b)
	}
	t := string(bytes.TrimSpace(raw))
	if t == "null" {
		return ""
	}
	return t
}
