package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name       string
		baseURL    string
		shouldFail bool
	}{
		{name: "https", baseURL: "https://vault.example.com/api"},
		{name: "http", baseURL: "http://localhost:8080"},
		{name: "trailing slash normalized", baseURL: "https://vault.example.com/"},
		{name: "empty", baseURL: "", shouldFail: true},
		{name: "no scheme", baseURL: "vault.example.com", shouldFail: true},
		{name: "bad scheme", baseURL: "ftp://vault.example.com", shouldFail: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewClient(Options{BaseURL: tc.baseURL})
			if tc.shouldFail {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			if c.BaseURL() == "" || c.BaseURL()[len(c.BaseURL())-1] == '/' {
				t.Errorf("base URL not normalized: %q", c.BaseURL())
			}
		})
	}
}

func TestUploadCommit(t *testing.T) {
	payload := []byte("binary model payload")
	var gotObject []byte
	var gotMeta CommitMeta
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/files/abc123/objects/c1":
			var buf bytes.Buffer
			buf.ReadFrom(r.Body)
			gotObject = buf.Bytes()
			json.NewEncoder(w).Encode(map[string]string{"object_version": "v42"})
		case r.Method == http.MethodPost && r.URL.Path == "/files/abc123/commits":
			json.NewDecoder(r.Body).Decode(&gotMeta)
			json.NewEncoder(w).Encode(map[string]string{"commit_id": "rc-1"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL, Token: "secret-token"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	res, err := c.UploadCommit(context.Background(), "abc123",
		CommitMeta{ID: "c1", Message: "first", CreatedAtNs: 12345}, payload)
	if err != nil {
		t.Fatalf("UploadCommit: %v", err)
	}

	if res.ObjectVersion != "v42" {
		t.Errorf("ObjectVersion = %q, want v42", res.ObjectVersion)
	}
	if res.RemoteCommitID != "rc-1" {
		t.Errorf("RemoteCommitID = %q, want rc-1", res.RemoteCommitID)
	}
	if !bytes.Equal(gotObject, payload) {
		t.Error("uploaded object bytes do not match payload")
	}
	if gotMeta.ObjectVersion != "v42" {
		t.Errorf("metadata carried object version %q, want v42", gotMeta.ObjectVersion)
	}
	if gotMeta.ObjectSize != int64(len(payload)) {
		t.Errorf("metadata carried object size %d, want %d", gotMeta.ObjectSize, len(payload))
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
}

func TestUploadCommitObjectFailureStopsMetadata(t *testing.T) {
	var metadataCalls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			atomic.AddInt32(&metadataCalls, 1)
		}
		http.Error(w, "object store unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL, MaxAttempts: 1})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = c.UploadCommit(context.Background(), "key", CommitMeta{ID: "c1"}, []byte("x"))
	if err == nil {
		t.Fatal("expected upload error")
	}
	if atomic.LoadInt32(&metadataCalls) != 0 {
		t.Error("metadata must not be registered when the object upload fails")
	}
}

func TestFetchCommits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/abc123/commits" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"commits": [
            {"id": "c2", "message": "later", "created_at_ns": 200, "parent_id": "c1", "object_version": "v2"},
            {"id": "c1", "message": "first", "created_at_ns": 100, "object_version": "v1"}
        ]}`)
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	commits, err := c.FetchCommits(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("FetchCommits: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(commits))
	}
	if commits[0].ID != "c2" || commits[0].ParentID != "c1" {
		t.Errorf("unexpected first commit: %+v", commits[0])
	}
}

func TestFetchCommitsRejectsInvalidPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing commits key", body: `{"items": []}`},
		{name: "commit without id", body: `{"commits": [{"message": "x", "created_at_ns": 1}]}`},
		{name: "empty id", body: `{"commits": [{"id": "", "message": "x", "created_at_ns": 1}]}`},
		{name: "negative timestamp", body: `{"commits": [{"id": "c1", "message": "x", "created_at_ns": -5}]}`},
		{name: "not json", body: `<html>gateway error</html>`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			c, err := NewClient(Options{BaseURL: srv.URL})
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			if _, err := c.FetchCommits(context.Background(), "abc123"); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestFetchBlob(t *testing.T) {
	payload := bytes.Repeat([]byte("vertex"), 500)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/abc123/objects/c1":
			w.Write(payload)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	data, err := c.FetchBlob(context.Background(), "abc123", "c1")
	if err != nil {
		t.Fatalf("FetchBlob: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("fetched bytes do not match")
	}

	_, err = c.FetchBlob(context.Background(), "abc123", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing object, got %v", err)
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL, MaxAttempts: 3})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	data, err := c.FetchBlob(context.Background(), "k", "c1")
	if err != nil {
		t.Fatalf("FetchBlob after retries: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("unexpected payload %q", data)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL, MaxAttempts: 3})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if _, err := c.FetchBlob(context.Background(), "k", "c1"); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("client errors must not be retried, got %d attempts", calls)
	}
}

func TestRequestBodyReplayedOnRetry(t *testing.T) {
	var bodies [][]byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		buf.ReadFrom(r.Body)
		bodies = append(bodies, buf.Bytes())
		if len(bodies) < 2 {
			http.Error(w, "retry me", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"object_version": "v1"})
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL, MaxAttempts: 3})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	payload := []byte("replayable body")
	if _, err := c.putObject(context.Background(), "k", "c1", payload); err != nil {
		t.Fatalf("putObject: %v", err)
	}

	if len(bodies) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(bodies))
	}
	for i, b := range bodies {
		if !bytes.Equal(b, payload) {
			t.Errorf("attempt %d body = %q, want %q", i+1, b, payload)
		}
	}
}

func TestTimeoutFailsCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte("too late"))
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond, MaxAttempts: 1})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	start := time.Now()
	_, err = c.FetchBlob(context.Background(), "k", "c1")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("call was not bounded by the timeout, took %s", elapsed)
	}
}
