package host

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Manifest is the part of the application manifest the loader reads.
type Manifest struct {
	Runtime struct {
		Version   string `json:"version"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"runtime"`
	StartupApp struct {
		UUID string `json:"uuid"`
		Name string `json:"name"`
	} `json:"startup_app"`
}

// ManifestSource reads the manifest from a file path or an http(s) URL.
type ManifestSource struct {
	location string
	client   *http.Client
}

// NewManifestSource creates a source for location.
func NewManifestSource(location string) *ManifestSource {
	return &ManifestSource{
		location: location,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Manifest fetches and decodes the manifest. runtime.version is required.
func (s *ManifestSource) Manifest(ctx context.Context) (*Manifest, error) {
	data, err := s.read(ctx)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", s.location, err)
	}
	if m.Runtime.Version == "" {
		return nil, fmt.Errorf("manifest %s has no runtime.version", s.location)
	}
	return &m, nil
}

func (s *ManifestSource) read(ctx context.Context) ([]byte, error) {
	if !strings.HasPrefix(s.location, "http://") && !strings.HasPrefix(s.location, "https://") {
		data, err := os.ReadFile(s.location)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.location, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create manifest request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("manifest request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("manifest %s returned HTTP %d: %s", s.location, resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}
