package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JonMunkholm/shelver/internal/apperr"
)

const maxResponseBytes = 2 << 20

// httpStatusError is a non-2xx provider response.
type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, snippet(e.Body))
}

func defaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// doJSON sends req and decodes a JSON body into target, classifying failures:
// transport errors, 408, 429 and 5xx are transient, other statuses and
// undecodable bodies are invalid payloads, 404 is not found.
func doJSON(client *http.Client, req *http.Request, op string, target any) error {
	resp, err := client.Do(req)
	if err != nil {
		return apperr.E(apperr.KindTransient, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperr.E(apperr.KindTransient, op, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		statusErr := &httpStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		switch {
		case resp.StatusCode == http.StatusRequestTimeout,
			resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode >= http.StatusInternalServerError:
			return apperr.E(apperr.KindTransient, op, statusErr)
		case resp.StatusCode == http.StatusNotFound:
			return apperr.E(apperr.KindNotFound, op, statusErr)
		default:
			return apperr.E(apperr.KindInvalidPayload, op, statusErr)
		}
	}

	if err := json.Unmarshal(body, target); err != nil {
		return apperr.E(apperr.KindInvalidPayload, op, fmt.Errorf("decode response: %w (body: %s)", err, snippet(string(body))))
	}
	return nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint, op string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apperr.E(apperr.KindInternal, op, fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	return doJSON(client, req, op, target)
}

func postJSON(ctx context.Context, client *http.Client, endpoint, op string, headers map[string]string, payload, target any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return apperr.E(apperr.KindInternal, op, fmt.Errorf("encode body: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return apperr.E(apperr.KindInternal, op, fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doJSON(client, req, op, target)
}
