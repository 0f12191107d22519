// Package drive talks to the cloud photo-storage API: folder listings, raw
// object downloads and credential probes. Every call takes the API key to use
// so credential choice stays with the caller.
package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	DefaultBaseURL  = "https://www.googleapis.com/drive/v3"
	DefaultTimeout  = 30 * time.Second
	DefaultPageSize = 1000
	// DefaultMaxObjectBytes caps a single downloaded object.
	DefaultMaxObjectBytes = 200 << 20

	folderMimeType = "application/vnd.google-apps.folder"
	maxFolderDepth = 10
	listFields     = "nextPageToken,files(id,name,mimeType,thumbnailLink,webContentLink,createdTime)"
)

// Metrics receives one event per upstream request. outcome is "ok",
// "throttled" or "error".
type Metrics interface {
	Request(op, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) Request(string, string) {}

type Options struct {
	BaseURL        string
	Timeout        time.Duration
	PageSize       int
	MaxObjectBytes int64
	HTTPClient     *http.Client
	Logger         *slog.Logger
	Metrics        Metrics
}

type Client struct {
	baseURL        string
	http           *http.Client
	pageSize       int
	maxObjectBytes int64
	logger         *slog.Logger
	metrics        Metrics
}

// Object is a downloaded file body.
type Object struct {
	ID          string
	ContentType string
	Data        []byte
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxObjectBytes <= 0 {
		opts.MaxObjectBytes = DefaultMaxObjectBytes
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}

	return &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		http:           opts.HTTPClient,
		pageSize:       opts.PageSize,
		maxObjectBytes: opts.MaxObjectBytes,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
	}
}

type listResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Files         []file `json:"files"`
}

type folder struct {
	id    string
	name  string
	path  string
	depth int
}

// ListPhotos lists the images under folderID. With recursive set, sub-folders
// are walked breadth-first and each photo carries its folder name and path.
// The result is ordered by folder path, then name.
func (c *Client) ListPhotos(ctx context.Context, folderID, apiKey string, recursive bool) ([]Photo, error) {
	photos := make([]Photo, 0)
	visited := map[string]bool{folderID: true}
	queue := []folder{{id: folderID}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		files, err := c.listChildren(ctx, current.id, apiKey, recursive)
		if err != nil {
			return nil, err
		}

		for _, f := range files {
			if f.MimeType == folderMimeType {
				if !recursive || visited[f.ID] || current.depth+1 > maxFolderDepth {
					continue
				}
				visited[f.ID] = true
				path := f.Name
				if current.path != "" {
					path = current.path + "/" + f.Name
				}
				queue = append(queue, folder{id: f.ID, name: f.Name, path: path, depth: current.depth + 1})
				continue
			}
			if !strings.HasPrefix(f.MimeType, "image/") {
				continue
			}
			photos = append(photos, normalize(f, current.name, current.path))
		}
	}

	sort.SliceStable(photos, func(i, j int) bool {
		if photos[i].FolderPath != photos[j].FolderPath {
			return photos[i].FolderPath < photos[j].FolderPath
		}
		return photos[i].Name < photos[j].Name
	})
	return photos, nil
}

func (c *Client) listChildren(ctx context.Context, folderID, apiKey string, withFolders bool) ([]file, error) {
	q := fmt.Sprintf("'%s' in parents and trashed = false and mimeType contains 'image/'", escapeQuery(folderID))
	if withFolders {
		q = fmt.Sprintf("'%s' in parents and trashed = false and (mimeType contains 'image/' or mimeType = '%s')",
			escapeQuery(folderID), folderMimeType)
	}

	var out []file
	pageToken := ""
	for {
		params := url.Values{}
		params.Set("q", q)
		params.Set("fields", listFields)
		params.Set("pageSize", fmt.Sprint(c.pageSize))
		params.Set("orderBy", "name")
		params.Set("key", apiKey)
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page listResponse
		if err := c.getJSON(ctx, "list", c.baseURL+"/files?"+params.Encode(), &page); err != nil {
			return nil, err
		}
		out = append(out, page.Files...)

		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

// Download fetches the raw bytes of one object.
func (c *Client) Download(ctx context.Context, fileID, apiKey string) (*Object, error) {
	params := url.Values{}
	params.Set("alt", "media")
	params.Set("key", apiKey)
	endpoint := c.baseURL + "/files/" + url.PathEscape(fileID) + "?" + params.Encode()

	resp, err := c.do(ctx, endpoint)
	if err != nil {
		c.metrics.Request("download", "error")
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		c.metrics.Request("download", outcomeOf(err))
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxObjectBytes+1))
	if err != nil {
		c.metrics.Request("download", "error")
		return nil, fmt.Errorf("read object %s: %w", fileID, err)
	}
	if int64(len(data)) > c.maxObjectBytes {
		c.metrics.Request("download", "error")
		return nil, fmt.Errorf("object %s exceeds %d bytes", fileID, c.maxObjectBytes)
	}

	c.metrics.Request("download", "ok")
	return &Object{
		ID:          fileID,
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// Probe makes the cheapest authenticated call with apiKey and returns the
// HTTP status seen. A nil error means the key works.
func (c *Client) Probe(ctx context.Context, apiKey string) (int, error) {
	params := url.Values{}
	params.Set("pageSize", "1")
	params.Set("fields", "files(id)")
	params.Set("q", "mimeType contains 'image/'")
	params.Set("key", apiKey)

	resp, err := c.do(ctx, c.baseURL+"/files?"+params.Encode())
	if err != nil {
		c.metrics.Request("probe", "error")
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if err := c.checkStatus(resp); err != nil {
		c.metrics.Request("probe", outcomeOf(err))
		return resp.StatusCode, err
	}
	c.metrics.Request("probe", "ok")
	return resp.StatusCode, nil
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, dst any) error {
	resp, err := c.do(ctx, endpoint)
	if err != nil {
		c.metrics.Request(op, "error")
		return err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		c.metrics.Request(op, outcomeOf(err))
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		c.metrics.Request(op, "error")
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	c.metrics.Request(op, "ok")
	return nil
}

func (c *Client) do(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return resp, nil
}

type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	if json.Unmarshal(raw, &body) == nil {
		if body.Error.Message != "" {
			apiErr.Message = body.Error.Message
		}
		if len(body.Error.Errors) > 0 {
			apiErr.Reason = body.Error.Errors[0].Reason
		}
	}

	if apiErr.Throttled() {
		c.logger.Debug("upstream throttled request", "status", apiErr.Status, "reason", apiErr.Reason)
	}
	return apiErr
}

func outcomeOf(err error) string {
	if errors.Is(err, ErrRateLimited) {
		return "throttled"
	}
	return "error"
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `'`, `\'`)
}
