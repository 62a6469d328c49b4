package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpClient bounds every API call; attestation sessions finish well within it.
var httpClient = &http.Client{Timeout: 30 * time.Second}

// apiError is the error body returned by the API.
type apiError struct {
	Error string `json:"error"`
}

// httpGet performs a GET request and decodes the JSON response.
func httpGet(url string, result any) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("GET %s:\n%w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError("GET", url, resp)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// httpGetBytes performs a GET request and returns the raw body.
func httpGetBytes(url string) ([]byte, error) {
	resp, err := httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s:\n%w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("GET", url, resp)
	}

	return io.ReadAll(resp.Body)
}

// httpPost performs a POST request with a raw body and decodes the JSON response.
func httpPost(url string, contentType string, body io.Reader, result any) error {
	resp, err := httpClient.Post(url, contentType, body)
	if err != nil {
		return fmt.Errorf("POST %s:\n%w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return statusError("POST", url, resp)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// statusError formats a non-success response, including the API error message if any.
func statusError(method, url string, resp *http.Response) error {
	var e apiError
	if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
		return fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, e.Error)
	}

	return fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
}
