package models

// Tag is a library-wide tag name with an optional color from the settings.
type Tag struct {
	Library LibraryID
	Name    string
	Color   string
}

// TagColor is one entry of the tagColors setting.
type TagColor struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}
