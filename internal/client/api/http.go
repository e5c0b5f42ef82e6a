package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/refsync/internal/client/models"
	"github.com/google/uuid"
)

const (
	HeaderAPIKey               = "Zotero-API-Key"
	HeaderAPIVersion           = "Zotero-API-Version"
	HeaderLastModifiedVersion  = "Last-Modified-Version"
	HeaderIfModifiedSinceVer   = "If-Modified-Since-Version"
	HeaderIfUnmodifiedSinceVer = "If-Unmodified-Since-Version"
	HeaderWriteToken           = "Zotero-Write-Token"
)

const (
	apiVersion      = "3"
	errorBodyLimit  = 512
	formContentType = "application/x-www-form-urlencoded"
	jsonContentType = "application/json"
)

// HTTPClient implements Client over the REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient returns a client with a per-request timeout.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return NewHTTPClientWith(baseURL, apiKey, &http.Client{Timeout: timeout})
}

func NewHTTPClientWith(baseURL, apiKey string, c *http.Client) *HTTPClient {
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: c}
}

type request struct {
	method      string
	path        string
	query       url.Values
	headers     map[string]string
	body        []byte
	contentType string
}

func (c *HTTPClient) do(ctx context.Context, r request) (*http.Response, error) {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(HeaderAPIVersion, apiVersion)
	if c.apiKey != "" {
		req.Header.Set(HeaderAPIKey, c.apiKey)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// connection failures and client timeouts are transient
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	return nil, mapStatus(resp.StatusCode, strings.TrimSpace(string(msg)))
}

func mapStatus(code int, msg string) error {
	switch {
	case code == http.StatusNotModified:
		return ErrNotModified
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusPreconditionFailed:
		return ErrPreconditionFailed
	case code == http.StatusTooManyRequests, code >= 500:
		return ErrUnavailable
	default:
		return &StatusError{Code: code, Message: msg}
	}
}

func lastModified(resp *http.Response) int64 {
	v, err := strconv.ParseInt(resp.Header.Get(HeaderLastModifiedVersion), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func decode(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func sinceHeaders(since int64) map[string]string {
	if since <= 0 {
		return nil
	}
	return map[string]string{HeaderIfModifiedSinceVer: strconv.FormatInt(since, 10)}
}

func sinceQuery(since int64) url.Values {
	q := url.Values{}
	if since > 0 {
		q.Set("since", strconv.FormatInt(since, 10))
	}
	return q
}

func listPath(lib models.LibraryID, kind models.Kind) string {
	if kind == models.KindTrash {
		return "/" + lib.String() + "/items/trash"
	}
	return "/" + lib.String() + "/" + kind.Plural()
}

func keyParam(kind models.Kind) string {
	switch kind.Stored() {
	case models.KindCollection:
		return "collectionKey"
	case models.KindSearch:
		return "searchKey"
	default:
		return "itemKey"
	}
}

type keyResponse struct {
	UserID   int64  `json:"userID"`
	Username string `json:"username"`
	Access   struct {
		User   Access            `json:"user"`
		Groups map[string]Access `json:"groups"`
	} `json:"access"`
}

func (c *HTTPClient) KeyPermissions(ctx context.Context) (*KeyInfo, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: "/keys/current"})
	if err != nil {
		return nil, err
	}
	var kr keyResponse
	if err := decode(resp, &kr); err != nil {
		return nil, err
	}
	info := &KeyInfo{UserID: kr.UserID, Username: kr.Username, User: kr.Access.User, Groups: map[int64]Access{}}
	for id, a := range kr.Access.Groups {
		if id == "all" {
			info.AllGroups = &a
			continue
		}
		gid, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: group id %q", ErrInvalidResponse, id)
		}
		info.Groups[gid] = a
	}
	return info, nil
}

func (c *HTTPClient) GroupVersions(ctx context.Context, userID int64) (map[int64]int64, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/users/" + strconv.FormatInt(userID, 10) + "/groups",
		query:  url.Values{"format": {"versions"}},
	})
	if err != nil {
		return nil, err
	}
	var raw map[string]int64
	if err := decode(resp, &raw); err != nil {
		return nil, err
	}
	result := make(map[int64]int64, len(raw))
	for id, v := range raw {
		gid, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: group id %q", ErrInvalidResponse, id)
		}
		result[gid] = v
	}
	return result, nil
}

type groupResponse struct {
	ID      int64 `json:"id"`
	Version int64 `json:"version"`
	Data    struct {
		Name           string  `json:"name"`
		Owner          int64   `json:"owner"`
		Type           string  `json:"type"`
		LibraryEditing string  `json:"libraryEditing"`
		FileEditing    string  `json:"fileEditing"`
		Admins         []int64 `json:"admins"`
	} `json:"data"`
}

func (c *HTTPClient) FetchGroup(ctx context.Context, groupID int64) (*Group, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: "/groups/" + strconv.FormatInt(groupID, 10)})
	if err != nil {
		return nil, err
	}
	var gr groupResponse
	if err := decode(resp, &gr); err != nil {
		return nil, err
	}
	return &Group{
		ID:             gr.ID,
		Version:        gr.Version,
		Name:           gr.Data.Name,
		Owner:          gr.Data.Owner,
		Type:           gr.Data.Type,
		LibraryEditing: gr.Data.LibraryEditing,
		FileEditing:    gr.Data.FileEditing,
		Admins:         gr.Data.Admins,
	}, nil
}

type settingEntry struct {
	Value   json.RawMessage `json:"value"`
	Version int64           `json:"version"`
}

func (c *HTTPClient) FetchSettings(ctx context.Context, lib models.LibraryID, since int64) (*Settings, error) {
	resp, err := c.do(ctx, request{
		method:  http.MethodGet,
		path:    "/" + lib.String() + "/settings",
		query:   sinceQuery(since),
		headers: sinceHeaders(since),
	})
	if err != nil {
		return nil, err
	}
	version := lastModified(resp)
	var raw map[string]settingEntry
	if err := decode(resp, &raw); err != nil {
		return nil, err
	}
	s := &Settings{Version: version}
	if tc, ok := raw["tagColors"]; ok && len(tc.Value) > 0 {
		if err := json.Unmarshal(tc.Value, &s.TagColors); err != nil {
			return nil, fmt.Errorf("%w: tagColors: %v", ErrInvalidResponse, err)
		}
	}
	return s, nil
}

func (c *HTTPClient) ListVersions(ctx context.Context, lib models.LibraryID, kind models.Kind, since int64) (map[string]int64, int64, error) {
	q := sinceQuery(since)
	q.Set("format", "versions")
	resp, err := c.do(ctx, request{
		method:  http.MethodGet,
		path:    listPath(lib, kind),
		query:   q,
		headers: sinceHeaders(since),
	})
	if err != nil {
		return nil, 0, err
	}
	version := lastModified(resp)
	versions := map[string]int64{}
	if err := decode(resp, &versions); err != nil {
		return nil, 0, err
	}
	return versions, version, nil
}

func (c *HTTPClient) FetchObjects(ctx context.Context, lib models.LibraryID, kind models.Kind, keys []string) ([]json.RawMessage, int64, error) {
	if len(keys) == 0 {
		return nil, 0, nil
	}
	q := url.Values{keyParam(kind): {strings.Join(keys, ",")}}
	if kind.Stored() == models.KindItem {
		q.Set("includeTrashed", "1")
	}
	resp, err := c.do(ctx, request{method: http.MethodGet, path: "/" + lib.String() + "/" + kind.Plural(), query: q})
	if err != nil {
		return nil, 0, err
	}
	version := lastModified(resp)
	var objects []json.RawMessage
	if err := decode(resp, &objects); err != nil {
		return nil, 0, err
	}
	return objects, version, nil
}

type deletedResponse struct {
	Collections []string `json:"collections"`
	Searches    []string `json:"searches"`
	Items       []string `json:"items"`
	Tags        []string `json:"tags"`
}

func (c *HTTPClient) FetchDeletionLog(ctx context.Context, lib models.LibraryID, since int64) (*DeletionLog, error) {
	q := url.Values{"since": {strconv.FormatInt(since, 10)}}
	resp, err := c.do(ctx, request{method: http.MethodGet, path: "/" + lib.String() + "/deleted", query: q})
	if err != nil {
		return nil, err
	}
	version := lastModified(resp)
	var dr deletedResponse
	if err := decode(resp, &dr); err != nil {
		return nil, err
	}
	return &DeletionLog{
		Collections: dr.Collections,
		Searches:    dr.Searches,
		Items:       dr.Items,
		Tags:        dr.Tags,
		Version:     version,
	}, nil
}

func (c *HTTPClient) CollectionItemKeys(ctx context.Context, lib models.LibraryID, collectionKey string) ([]string, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/" + lib.String() + "/collections/" + url.PathEscape(collectionKey) + "/items",
		query:  url.Values{"format": {"keys"}},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var keys []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if k := strings.TrimSpace(sc.Text()); k != "" {
			keys = append(keys, k)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return keys, nil
}

type failedEntry struct {
	Key     string `json:"key"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type writeResponse struct {
	Success   map[string]string      `json:"success"`
	Unchanged map[string]string      `json:"unchanged"`
	Failed    map[string]failedEntry `json:"failed"`
}

func (c *HTTPClient) WriteBatch(ctx context.Context, lib models.LibraryID, kind models.Kind, version int64, objects []WriteObject) (*WriteResult, error) {
	body, err := json.Marshal(objects)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/" + lib.String() + "/" + kind.Plural(),
		body:        body,
		contentType: jsonContentType,
		headers: map[string]string{
			HeaderIfUnmodifiedSinceVer: strconv.FormatInt(version, 10),
			HeaderWriteToken:           strings.ReplaceAll(uuid.NewString(), "-", ""),
		},
	})
	if err != nil {
		return nil, err
	}
	result := &WriteResult{Version: lastModified(resp)}
	var wr writeResponse
	if err := decode(resp, &wr); err != nil {
		return nil, err
	}

	keyAt := func(idx string, fallback string) string {
		if fallback != "" {
			return fallback
		}
		i, err := strconv.Atoi(idx)
		if err != nil || i < 0 || i >= len(objects) {
			return ""
		}
		return objects[i].Key()
	}
	for _, idx := range sortedIndexes(wr.Success) {
		result.Successful = append(result.Successful, keyAt(idx, wr.Success[idx]))
	}
	for _, idx := range sortedIndexes(wr.Unchanged) {
		result.Unchanged = append(result.Unchanged, keyAt(idx, wr.Unchanged[idx]))
	}
	for _, idx := range sortedIndexes(wr.Failed) {
		f := wr.Failed[idx]
		result.Failed = append(result.Failed, WriteFailure{Key: keyAt(idx, f.Key), Code: f.Code, Message: f.Message})
	}
	return result, nil
}

func sortedIndexes[V any](m map[string]V) []string {
	idx := make([]string, 0, len(m))
	for k := range m {
		idx = append(idx, k)
	}
	sort.Slice(idx, func(i, j int) bool {
		a, _ := strconv.Atoi(idx[i])
		b, _ := strconv.Atoi(idx[j])
		return a < b
	})
	return idx
}

func (c *HTTPClient) SubmitDeletions(ctx context.Context, lib models.LibraryID, kind models.Kind, version int64, keys []string) (int64, error) {
	resp, err := c.do(ctx, request{
		method:  http.MethodDelete,
		path:    "/" + lib.String() + "/" + kind.Plural(),
		query:   url.Values{keyParam(kind): {strings.Join(keys, ",")}},
		headers: map[string]string{HeaderIfUnmodifiedSinceVer: strconv.FormatInt(version, 10)},
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return lastModified(resp), nil
}

func fileHeaders(up *models.AttachmentUpload) map[string]string {
	if up.OldMD5 == "" {
		return map[string]string{"If-None-Match": "*"}
	}
	return map[string]string{"If-Match": up.OldMD5}
}

func filePath(up *models.AttachmentUpload) string {
	return "/" + up.Library.String() + "/items/" + url.PathEscape(up.Key) + "/file"
}

type authorizeResponse struct {
	Exists      int    `json:"exists"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	UploadKey   string `json:"uploadKey"`
}

func (c *HTTPClient) AuthorizeUpload(ctx context.Context, up *models.AttachmentUpload) (*Authorization, error) {
	form := url.Values{
		"md5":      {up.MD5},
		"filename": {up.Filename},
		"filesize": {strconv.FormatInt(up.Size, 10)},
		"mtime":    {strconv.FormatInt(up.Mtime, 10)},
	}
	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        filePath(up),
		body:        []byte(form.Encode()),
		contentType: formContentType,
		headers:     fileHeaders(up),
	})
	if err != nil {
		return nil, err
	}
	var ar authorizeResponse
	if err := decode(resp, &ar); err != nil {
		return nil, err
	}
	if ar.Exists == 1 {
		return &Authorization{Exists: true}, nil
	}
	if ar.URL == "" || ar.UploadKey == "" {
		return nil, fmt.Errorf("%w: upload authorization without url", ErrInvalidResponse)
	}
	return &Authorization{URL: ar.URL, ContentType: ar.ContentType, UploadKey: ar.UploadKey}, nil
}

func (c *HTTPClient) RegisterUpload(ctx context.Context, up *models.AttachmentUpload, uploadKey string) error {
	form := url.Values{"upload": {uploadKey}}
	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        filePath(up),
		body:        []byte(form.Encode()),
		contentType: formContentType,
		headers:     fileHeaders(up),
	})
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
