package attachments

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"
)

type properties struct {
	XMLName xml.Name `xml:"properties"`
	Version string   `xml:"version,attr"`
	Mtime   int64    `xml:"mtime"`
	Hash    string   `xml:"hash"`
}

func encodeProperties(mtime int64, hash string) []byte {
	b, _ := xml.Marshal(properties{Version: "1", Mtime: mtime, Hash: hash})
	return b
}

func decodeProperties(b []byte) (*properties, error) {
	var p properties
	if err := xml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	return &p, nil
}

func propName(key string) string { return key + ".prop" }
func zipName(key string) string  { return key + ".zip" }

// zipFile packs one file the way WebDAV-synced attachments are stored.
func zipFile(name string, mtime int64, r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
	if mtime > 0 {
		hdr.Modified = time.UnixMilli(mtime)
	}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(w, r); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
