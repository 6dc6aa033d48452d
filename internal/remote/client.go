// Package remote mirrors commits to the vault service: payload bytes go to
// its object store, commit metadata to its metadata API. Everything here is
// best-effort from the engine's point of view — an error from this package
// downgrades an operation to local-only, it never blocks local history.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"modelvault/internal/logging"
)

// ErrNotFound indicates the remote service does not hold the requested
// object or commit.
var ErrNotFound = errors.New("remote: not found")

// Response size limits. Metadata responses are small; object downloads are
// bounded by the largest design file the service accepts.
const (
	responseLimitMeta   = 8 << 20  // 8MB
	responseLimitObject = 2 << 30  // 2GB
	responseLimitError  = 64 << 10 // 64KB
)

// Options configures the vault service client.
type Options struct {
	// BaseURL is the service endpoint, e.g. https://vault.example.com/api.
	BaseURL string

	// Token is the bearer token; empty sends unauthenticated requests.
	Token string

	// Timeout bounds each HTTP call (default 10s).
	Timeout time.Duration

	// MaxAttempts is the number of tries per call including the first
	// (default 3). Only network errors, 429, and 5xx are retried.
	MaxAttempts int

	// Logger receives retry and validation warnings. Nil uses the process
	// default.
	Logger *logging.Logger
}

// CommitMeta is the wire form of commit metadata exchanged with the
// metadata API.
type CommitMeta struct {
	ID            string `json:"id"`
	Message       string `json:"message"`
	CreatedAtNs   int64  `json:"created_at_ns"`
	ParentID      string `json:"parent_id,omitempty"`
	ObjectVersion string `json:"object_version,omitempty"`
	ObjectSize    int64  `json:"object_size,omitempty"`
}

// UploadResult reports the identifiers the service assigned to an uploaded
// commit.
type UploadResult struct {
	ObjectVersion  string
	RemoteCommitID string
}

// Client talks to the vault service. A nil *Client means cloud sync is not
// permitted; callers must check before use.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	maxAttempts int
	commitList  *jsonschema.Schema
	log         *logging.Logger
}

// commitListSchema validates metadata responses before they are allowed
// anywhere near the local commit log. A service bug or a truncated proxy
// response must not corrupt local history.
const commitListSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["commits"],
  "properties": {
    "commits": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "message", "created_at_ns"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "message": {"type": "string"},
          "created_at_ns": {"type": "integer", "minimum": 0},
          "parent_id": {"type": "string"},
          "object_version": {"type": "string"},
          "object_size": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

// NewClient creates a vault service client. The base URL must carry an http
// or https scheme and a host.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("remote: base URL is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("remote: base URL must include http(s) scheme and host")
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("commit-list.schema.json", strings.NewReader(commitListSchema)); err != nil {
		return nil, fmt.Errorf("add commit list schema: %w", err)
	}
	schema, err := compiler.Compile("commit-list.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile commit list schema: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = logging.Default().WithComponent("remote")
	}

	return &Client{
		baseURL:     strings.TrimRight(u.String(), "/"),
		token:       strings.TrimSpace(opts.Token),
		httpClient:  &http.Client{Timeout: opts.Timeout},
		maxAttempts: opts.MaxAttempts,
		commitList:  schema,
		log:         log,
	}, nil
}

// BaseURL returns the normalized service endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UploadCommit mirrors one commit: payload bytes first, then metadata
// carrying the object version the store assigned. Either step failing fails
// the upload as a whole; the commit is already durable locally, so the
// caller just records it as not yet mirrored.
func (c *Client) UploadCommit(ctx context.Context, fileKey string, meta CommitMeta, data []byte) (UploadResult, error) {
	if meta.ID == "" {
		return UploadResult{}, fmt.Errorf("remote: commit id is required")
	}

	version, err := c.putObject(ctx, fileKey, meta.ID, data)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload object for commit %s: %w", meta.ID, err)
	}

	meta.ObjectVersion = version
	meta.ObjectSize = int64(len(data))
	remoteID, err := c.postCommit(ctx, fileKey, meta)
	if err != nil {
		return UploadResult{}, fmt.Errorf("register commit %s: %w", meta.ID, err)
	}

	return UploadResult{ObjectVersion: version, RemoteCommitID: remoteID}, nil
}

// FetchCommits returns the remote commit metadata for a tracked file,
// validated against the embedded schema.
func (c *Client) FetchCommits(ctx context.Context, fileKey string) ([]CommitMeta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/files/"+url.PathEscape(fileKey)+"/commits", nil)
	if err != nil {
		return nil, err
	}

	body, err := c.doWithLimit(req, http.StatusOK, responseLimitMeta)
	if err != nil {
		return nil, fmt.Errorf("fetch commits: %w", err)
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode commit list: %w", err)
	}
	if err := c.commitList.Validate(raw); err != nil {
		return nil, fmt.Errorf("commit list failed schema validation: %w", err)
	}

	var resp struct {
		Commits []CommitMeta `json:"commits"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode commit list: %w", err)
	}
	return resp.Commits, nil
}

// FetchBlob downloads the payload bytes for a commit. Returns ErrNotFound
// when the service has no object for it, which the blob store chain treats
// as a final miss.
func (c *Client) FetchBlob(ctx context.Context, fileKey, commitID string) ([]byte, error) {
	if commitID == "" {
		return nil, fmt.Errorf("remote: commit id is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.objectURL(fileKey, commitID), nil)
	if err != nil {
		return nil, err
	}
	c.applyAuth(req)

	resp, err := retryDo(c.httpClient, req, c.maxAttempts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, io.LimitReader(resp.Body, responseLimitError))
		return nil, fmt.Errorf("object for commit %s: %w", commitID, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(req, resp, readErrorBody(resp))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, responseLimitObject))
	if err != nil {
		return nil, fmt.Errorf("read object body: %w", err)
	}
	return data, nil
}

// putObject uploads payload bytes and returns the version token the object
// store assigned.
func (c *Client) putObject(ctx context.Context, fileKey, commitID string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.objectURL(fileKey, commitID), bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	body, err := c.doWithLimit(req, http.StatusOK, responseLimitMeta)
	if err != nil {
		return "", err
	}

	var resp struct {
		ObjectVersion string `json:"object_version"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode object response: %w", err)
	}
	if resp.ObjectVersion == "" {
		return "", fmt.Errorf("object store returned no version token")
	}
	return resp.ObjectVersion, nil
}

// postCommit registers commit metadata and returns the id the metadata
// service assigned.
func (c *Client) postCommit(ctx context.Context, fileKey string, meta CommitMeta) (string, error) {
	payload, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/files/"+url.PathEscape(fileKey)+"/commits", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.doWithLimit(req, http.StatusOK, responseLimitMeta)
	if err != nil {
		return "", err
	}

	var resp struct {
		CommitID string `json:"commit_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode commit response: %w", err)
	}
	if resp.CommitID == "" {
		return "", fmt.Errorf("metadata service returned no commit id")
	}
	return resp.CommitID, nil
}

func (c *Client) objectURL(fileKey, commitID string) string {
	return c.baseURL + "/files/" + url.PathEscape(fileKey) + "/objects/" + url.PathEscape(commitID)
}

// doWithLimit applies auth, runs the request with retries, and returns the
// body capped at maxBytes.
func (c *Client) doWithLimit(req *http.Request, expectedStatus int, maxBytes int64) ([]byte, error) {
	c.applyAuth(req)

	resp, err := retryDo(c.httpClient, req, c.maxAttempts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != expectedStatus {
		return nil, responseError(req, resp, body)
	}
	return body, nil
}

func (c *Client) applyAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func readErrorBody(resp *http.Response) []byte {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseLimitError))
	return body
}

func responseError(req *http.Request, resp *http.Response, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("remote request failed (%s %s): %s", req.Method, req.URL.Path, msg)
}
