package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// DefaultAddress is the HTTP address of a locally running browser with
// remote debugging enabled.
const DefaultAddress = "http://localhost:9222"

// DefaultTargetType is the target type selected when none is given.
const DefaultTargetType = "page"

// Target represents a CDP target (page, worker, etc).
type Target struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	Description  string `json:"description,omitempty"`
	WebSocketURL string `json:"webSocketDebuggerUrl,omitempty"`
}

// VersionInfo contains browser version information from /json/version.
type VersionInfo struct {
	Browser       string `json:"Browser"`
	ProtocolVer   string `json:"Protocol-Version"`
	UserAgent     string `json:"User-Agent"`
	V8Version     string `json:"V8-Version"`
	WebKitVersion string `json:"WebKit-Version"`
	WebSocketURL  string `json:"webSocketDebuggerUrl"`
}

// ListTargets retrieves the list of available targets from address + "/json/list".
// A nil client uses http.DefaultClient, which has no timeout; callers
// should bound ctx.
func ListTargets(ctx context.Context, client *http.Client, address string) ([]Target, error) {
	var targets []Target
	if err := getJSON(ctx, client, address, "/json/list", &targets); err != nil {
		return nil, fmt.Errorf("fetch targets: %w", err)
	}
	return targets, nil
}

// FetchVersion retrieves browser version info from address + "/json/version".
func FetchVersion(ctx context.Context, client *http.Client, address string) (*VersionInfo, error) {
	var info VersionInfo
	if err := getJSON(ctx, client, address, "/json/version", &info); err != nil {
		return nil, fmt.Errorf("fetch version: %w", err)
	}
	return &info, nil
}

// Discover resolves the WebSocket debugger URL of the first target of the
// given type. Every failure is reported as a *DiscoveryError.
func Discover(ctx context.Context, client *http.Client, address, targetType string) (string, error) {
	targets, err := ListTargets(ctx, client, address)
	if err != nil {
		return "", &DiscoveryError{Address: address, TargetType: targetType, Err: err}
	}

	target := FindTarget(targets, targetType)
	if target == nil {
		return "", &DiscoveryError{Address: address, TargetType: targetType, Err: ErrNoTarget}
	}
	return target.WebSocketURL, nil
}

// FindTarget returns the first target of the given type that can be
// connected to, or nil.
func FindTarget(targets []Target, targetType string) *Target {
	for i := range targets {
		if targets[i].Type == targetType && targets[i].WebSocketURL != "" {
			return &targets[i]
		}
	}
	return nil
}

// getJSON issues a GET for path relative to address and decodes the body into v.
func getJSON(ctx context.Context, client *http.Client, address, path string, v any) error {
	if client == nil {
		client = http.DefaultClient
	}

	base, err := url.Parse(address)
	if err != nil {
		return fmt.Errorf("parse address: %w", err)
	}
	endpoint := base.ResolveReference(&url.URL{Path: path})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
