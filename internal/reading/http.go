package reading

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jgoulah/plugshare/internal/config"
)

// HTTPSource reads energy meters through the device-control API
type HTTPSource struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

// NewHTTPSource creates a reader for the configured device-control endpoint
func NewHTTPSource(cfg config.DeviceAPI) *HTTPSource {
	return &HTTPSource{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// WithClient replaces the HTTP client
func (s *HTTPSource) WithClient(c *http.Client) *HTTPSource {
	s.client = c
	return s
}

// authHeader builds the Basic authorization header value
func (s *HTTPSource) authHeader() string {
	creds := s.username + ":" + s.password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}

// Read fetches the current meter values for the device at ip
func (s *HTTPSource) Read(ctx context.Context, ip string, _, _ time.Time) (Reading, error) {
	if s.baseURL == "" {
		return Reading{}, fmt.Errorf("device API URL is not configured")
	}

	reqURL := fmt.Sprintf("%s/api/devices/%s/energy", s.baseURL, url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Reading{}, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", s.authHeader())
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Reading{}, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Reading{}, fmt.Errorf("device API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var r Reading
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Reading{}, fmt.Errorf("decoding reading: %w", err)
	}
	if r.MonthEnergy < 0 {
		return Reading{}, fmt.Errorf("device reported negative month energy %.3f", r.MonthEnergy)
	}
	if r.At.IsZero() {
		r.At = time.Now().UTC()
	}
	return r, nil
}
