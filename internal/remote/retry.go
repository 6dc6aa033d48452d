package remote

import (
	"bytes"
	"io"
	"net/http"
	"time"
)

// retryDo executes an HTTP request with exponential backoff. Network errors,
// 429, and 5xx responses are retried; other client errors are returned to
// the caller on the first attempt. Request bodies are buffered so they can
// be replayed.
func retryDo(client *http.Client, req *http.Request, maxAttempts int) (*http.Response, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
	}

	var lastResp *http.Response
	var lastErr error
	backoff := 250 * time.Millisecond

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				if lastErr != nil {
					return nil, lastErr
				}
				if lastResp != nil {
					return lastResp, nil
				}
				return nil, req.Context().Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			lastResp = nil
			continue
		}

		if !retryableStatus(resp.StatusCode) {
			return resp, nil
		}

		// Drain before retrying so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, responseLimitError))
		resp.Body.Close()
		lastResp = resp
		lastErr = nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return lastResp, nil
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
