// Package clients talks to the job service and the user directory over HTTP.
package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const defaultTimeout = 5 * time.Second

// errNotFound is returned by getJSON on a 404 so callers can map it to their
// own sentinel.
var errNotFound = errors.New("remote resource not found")

// envelope is the response wrapper used by the platform's services.
type envelope[T any] struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Data       T      `json:"data"`
}

func newHTTPClient(client *http.Client, timeout time.Duration) *http.Client {
	if client != nil {
		return client
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func getJSON[T any](ctx context.Context, client *http.Client, url string) (T, error) {
	var zero T
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return zero, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return zero, errors.Wrapf(err, "GET %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return zero, errors.Wrapf(errNotFound, "GET %s", url)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return zero, errors.Newf("GET %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var env envelope[T]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return zero, errors.Wrapf(err, "decode %s", url)
	}
	return env.Data, nil
}
