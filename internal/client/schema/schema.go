// Package schema knows which item types and fields the local store accepts.
package schema

import (
	"encoding/json"
	"fmt"
	"slices"
)

type Schema struct {
	fields map[string]map[string]struct{}
}

// common fields shared by every regular item type
var baseFields = []string{
	"title", "abstractNote", "date", "language", "shortTitle", "url", "accessDate",
	"archive", "archiveLocation", "libraryCatalog", "callNumber", "rights", "extra",
}

var typeFields = map[string][]string{
	"artwork":             {"artworkMedium", "artworkSize"},
	"audioRecording":      {"audioRecordingFormat", "seriesTitle", "volume", "numberOfVolumes", "place", "label", "runningTime", "ISBN"},
	"bill":                {"billNumber", "code", "codeVolume", "section", "codePages", "legislativeBody", "session", "history"},
	"blogPost":            {"blogTitle", "websiteType"},
	"book":                {"series", "seriesNumber", "volume", "numberOfVolumes", "edition", "place", "publisher", "numPages", "ISBN"},
	"bookSection":         {"bookTitle", "series", "seriesNumber", "volume", "numberOfVolumes", "edition", "place", "publisher", "pages", "ISBN"},
	"case":                {"caseName", "court", "dateDecided", "docketNumber", "reporter", "reporterVolume", "firstPage", "history"},
	"computerProgram":     {"seriesTitle", "versionNumber", "system", "place", "company", "programmingLanguage", "ISBN"},
	"conferencePaper":     {"proceedingsTitle", "conferenceName", "place", "publisher", "volume", "pages", "series", "DOI", "ISBN"},
	"dictionaryEntry":     {"dictionaryTitle", "series", "seriesNumber", "volume", "numberOfVolumes", "edition", "place", "publisher", "pages", "ISBN"},
	"document":            {"publisher"},
	"email":               {"subject"},
	"encyclopediaArticle": {"encyclopediaTitle", "series", "seriesNumber", "volume", "numberOfVolumes", "edition", "place", "publisher", "pages", "ISBN"},
	"film":                {"distributor", "genre", "videoRecordingFormat", "runningTime"},
	"forumPost":           {"forumTitle", "postType"},
	"hearing":             {"committee", "place", "publisher", "numberOfVolumes", "documentNumber", "pages", "legislativeBody", "session", "history"},
	"instantMessage":      {},
	"interview":           {"interviewMedium"},
	"journalArticle":      {"publicationTitle", "volume", "issue", "pages", "series", "seriesTitle", "seriesText", "journalAbbreviation", "DOI", "ISSN"},
	"letter":              {"letterType"},
	"magazineArticle":     {"publicationTitle", "volume", "issue", "pages", "ISSN"},
	"manuscript":          {"manuscriptType", "place", "numPages"},
	"map":                 {"mapType", "scale", "seriesTitle", "edition", "place", "publisher", "ISBN"},
	"newspaperArticle":    {"publicationTitle", "place", "edition", "section", "pages", "ISSN"},
	"patent":              {"place", "country", "assignee", "issuingAuthority", "patentNumber", "filingDate", "pages", "applicationNumber", "priorityNumbers", "issueDate", "references", "legalStatus"},
	"podcast":             {"seriesTitle", "episodeNumber", "audioFileType", "runningTime"},
	"presentation":        {"presentationType", "place", "meetingName"},
	"radioBroadcast":      {"programTitle", "episodeNumber", "audioRecordingFormat", "place", "network", "runningTime"},
	"report":              {"reportNumber", "reportType", "seriesTitle", "place", "institution", "pages"},
	"statute":             {"nameOfAct", "code", "codeNumber", "publicLawNumber", "dateEnacted", "pages", "section", "session", "history"},
	"thesis":              {"thesisType", "university", "place", "numPages"},
	"tvBroadcast":         {"programTitle", "episodeNumber", "videoRecordingFormat", "place", "network", "runningTime"},
	"videoRecording":      {"videoRecordingFormat", "seriesTitle", "volume", "numberOfVolumes", "place", "studio", "runningTime", "ISBN"},
	"webpage":             {"websiteTitle", "websiteType"},
}

// types without the common bibliographic fields
var specialTypes = map[string][]string{
	"note": {"note"},
	"attachment": {"title", "accessDate", "url", "note", "contentType", "charset", "filename",
		"linkMode", "md5", "mtime", "path"},
	"annotation": {"annotationType", "annotationText", "annotationComment", "annotationColor",
		"annotationPageLabel", "annotationSortIndex", "annotationPosition", "annotationAuthorName"},
}

// Default returns the built-in schema.
func Default() *Schema {
	s := &Schema{fields: make(map[string]map[string]struct{}, len(typeFields)+len(specialTypes))}
	for t, extra := range typeFields {
		s.add(t, baseFields)
		s.add(t, extra)
	}
	for t, fields := range specialTypes {
		s.add(t, fields)
	}
	return s
}

func (s *Schema) add(itemType string, fields []string) {
	set, ok := s.fields[itemType]
	if !ok {
		set = map[string]struct{}{}
		s.fields[itemType] = set
	}
	for _, f := range fields {
		set[f] = struct{}{}
	}
}

func (s *Schema) IsKnownType(itemType string) bool {
	_, ok := s.fields[itemType]
	return ok
}

func (s *Schema) IsKnownField(itemType, field string) bool {
	set, ok := s.fields[itemType]
	if !ok {
		return false
	}
	_, ok = set[field]
	return ok
}

// Fields returns the sorted field names of an item type.
func (s *Schema) Fields(itemType string) []string {
	set := s.fields[itemType]
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Types returns the sorted item type names.
func (s *Schema) Types() []string {
	out := make([]string, 0, len(s.fields))
	for t := range s.fields {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

type schemaFile struct {
	ItemTypes []struct {
		ItemType string `json:"itemType"`
		Fields   []struct {
			Field string `json:"field"`
		} `json:"fields"`
	} `json:"itemTypes"`
}

// Parse reads a schema document in the server's schema format. Types found
// in data replace the built-in definition of the same type.
func Parse(data []byte) (*Schema, error) {
	var f schemaFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	s := Default()
	for _, it := range f.ItemTypes {
		if it.ItemType == "" {
			return nil, fmt.Errorf("parse schema: item type without name")
		}
		delete(s.fields, it.ItemType)
		names := make([]string, 0, len(it.Fields))
		for _, fl := range it.Fields {
			names = append(names, fl.Field)
		}
		s.add(it.ItemType, names)
	}
	return s, nil
}
