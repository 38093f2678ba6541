// Utilities for reading credentials out of a copied cURL command.
package shared

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
)

var (
	curlHeader = regexp.MustCompile(`(?:-H|--header)\s+(?:'([^']+)'|"([^"]+)")`)
	curlURL    = regexp.MustCompile(`(?:'|")?(https?://[^\s'"]+)(?:'|")?`)
)

// CapturedRequest is a request copied from the browser's network panel with "Copy as cURL".
type CapturedRequest struct {
	URL     *url.URL
	Headers map[string]string
}

// ParseCurlFile reads a file containing a cURL command.
func ParseCurlFile(path string) (*CapturedRequest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read curl file: %w", err)
	}
	return ParseCurlCommand(content)
}

// ParseCurlCommand extracts the target URL and headers from a cURL command. Header names are lowercased.
func ParseCurlCommand(data []byte) (*CapturedRequest, error) {
	cmd := strings.ReplaceAll(string(data), "\\\n", " ")

	req := &CapturedRequest{Headers: map[string]string{}}
	for _, m := range curlHeader.FindAllStringSubmatch(cmd, -1) {
		line := m[1]
		if line == "" {
			line = m[2]
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		req.Headers[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	if m := curlURL.FindStringSubmatch(cmd); m != nil {
		u, err := url.Parse(m[1])
		if err != nil {
			return nil, fmt.Errorf("%w: bad url in curl command: %v", ErrInvalidInput, err)
		}
		req.URL = u
	}

	if req.URL == nil && len(req.Headers) == 0 {
		return nil, fmt.Errorf("%w: no url or headers found in curl command", ErrInvalidInput)
	}
	return req, nil
}

// BaseURL is the scheme and host of the captured request.
func (c *CapturedRequest) BaseURL() string {
	if c.URL == nil {
		return ""
	}
	return c.URL.Scheme + "://" + c.URL.Host
}

// AccessToken returns the bearer token from the Authorization header.
//
// Backends send the anon key as a bearer token on signed-out requests, so a token equal to the apikey
// header is not a user session.
func (c *CapturedRequest) AccessToken() string {
	auth := c.Headers["authorization"]
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	token = strings.TrimSpace(token)
	if token == c.Headers["apikey"] {
		return ""
	}
	return token
}

// AnonKey returns the apikey header.
func (c *CapturedRequest) AnonKey() string {
	return c.Headers["apikey"]
}
