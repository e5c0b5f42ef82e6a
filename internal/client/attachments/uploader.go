package attachments

import (
	"fmt"

	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/dmitrijs2005/refsync/internal/cryptox"
	"github.com/gabriel-vasile/mimetype"
)

// Uploader builds upload descriptions from attachment records.
type Uploader struct {
	storage *Storage
}

func NewUploader(s *Storage) *Uploader {
	return &Uploader{storage: s}
}

// Prepare hashes the local file of an attachment item. The item's md5 field
// is the hash the server knows and becomes the overwrite precondition.
func (u *Uploader) Prepare(rec *models.Record) (*models.AttachmentUpload, error) {
	it := rec.Item()
	if it == nil || !it.IsStoredFile() {
		return nil, fmt.Errorf("%s is not a stored attachment", rec.Key)
	}
	filename := it.Fields[models.FieldFilename]
	if filename == "" {
		return nil, fmt.Errorf("%w: %s has no filename", ErrFileNotFound, rec.Key)
	}
	path := u.storage.Path(rec.Library, rec.Key, filename)

	fi, err := u.storage.Stat(path)
	if err != nil {
		return nil, err
	}
	f, err := u.storage.Open(path)
	if err != nil {
		return nil, err
	}
	sum, size, err := cryptox.MD5(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}

	contentType := it.Fields[models.FieldContentType]
	if contentType == "" {
		if contentType, err = u.sniff(path); err != nil {
			return nil, err
		}
	}

	return &models.AttachmentUpload{
		Library:     rec.Library,
		Key:         rec.Key,
		Filename:    filename,
		ContentType: contentType,
		MD5:         sum,
		Mtime:       fi.ModTime().UnixMilli(),
		Size:        size,
		Path:        path,
		OldMD5:      it.Fields[models.FieldMD5],
	}, nil
}

func (u *Uploader) sniff(path string) (string, error) {
	f, err := u.storage.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	m, err := mimetype.DetectReader(f)
	if err != nil {
		return "", fmt.Errorf("detect content type of %s: %w", path, err)
	}
	return m.String(), nil
}
