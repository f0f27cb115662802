// Package gateway implements the HTTP/JSON client for the messaging
// platform's export gateway. One Client is one authenticated
// connection; the fetch engine gives each shard its own Client so
// shards run genuinely parallel I/O across independent connections.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/fetch/metrics"
)

// Client is a single authenticated gateway connection.
type Client struct {
	name     string
	endpoint string
	token    string
	zone     int

	httpClient *http.Client

	mu           sync.RWMutex
	successCount int
	failureCount int
	totalLatency time.Duration
}

// NewClient creates a gateway connection. zone is the datacenter the
// session was issued against (0 if unknown).
func NewClient(name, endpoint, token string, zone int, timeout time.Duration) *Client {
	return &Client{
		name:     name,
		endpoint: endpoint,
		token:    token,
		zone:     zone,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Name returns the session name this connection was built from.
func (c *Client) Name() string { return c.name }

// Zone returns the connection's current routing zone.
func (c *Client) Zone() int { return c.zone }

// envelope is the gateway's response wrapper.
type envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *apiError       `json:"error"`
}

type apiError struct {
	Code       int     `json:"code"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
}

// Call makes a single gateway API call and returns the raw result.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	start := time.Now()
	metrics.RemoteCallsTotal.WithLabelValues(c.name, method).Inc()

	body, err := json.Marshal(params)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.endpoint + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		metrics.RemoteErrorsTotal.WithLabelValues(c.name, method, "transport").Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &domain.TimeoutError{Op: method, Err: err}
		}
		return nil, fmt.Errorf("gateway call %s: %w", method, err)
	}
	defer resp.Body.Close()

	latency := time.Since(start)
	metrics.RemoteCallLatency.WithLabelValues(c.name, method).Observe(latency.Seconds())

	if resp.StatusCode == http.StatusTooManyRequests {
		c.recordFailure()
		metrics.RemoteErrorsTotal.WithLabelValues(c.name, method, "flood_wait").Inc()
		seconds := 60.0
		if v := resp.Header.Get("Retry-After"); v != "" {
			if parsed, parseErr := strconv.ParseFloat(v, 64); parseErr == nil {
				seconds = parsed
			}
		}
		return nil, &domain.FloodWaitError{Seconds: seconds}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.recordFailure()
		metrics.RemoteErrorsTotal.WithLabelValues(c.name, method, "auth").Inc()
		return nil, fmt.Errorf("gateway call %s: %w", method, domain.ErrUnauthorized)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if !env.OK {
		c.recordFailure()
		apiErr := env.Error
		if apiErr == nil {
			apiErr = &apiError{Code: resp.StatusCode, Message: "UNKNOWN"}
		}
		mapped := mapAPIError(method, apiErr)
		metrics.RemoteErrorsTotal.WithLabelValues(c.name, method, errorKind(mapped)).Inc()
		return nil, mapped
	}

	c.recordSuccess(latency)
	return env.Result, nil
}

// Probe issues a cheap existence check for target and returns the
// routing zone the gateway answered from. Used for prewarm.
func (c *Client) Probe(ctx context.Context, target string) (int, error) {
	result, err := c.Call(ctx, "contacts.check", map[string]any{"target": target})
	if err != nil {
		return 0, err
	}

	var out struct {
		Exists bool `json:"exists"`
		Zone   int  `json:"zone"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return 0, fmt.Errorf("parse probe result: %w", err)
	}
	if !out.Exists {
		return 0, fmt.Errorf("probe %s: %w", target, domain.ErrPeerNotFound)
	}

	if out.Zone != 0 {
		c.zone = out.Zone
	}
	return out.Zone, nil
}

// ResolvePeer resolves a username or ID string into a routable
// descriptor.
func (c *Client) ResolvePeer(ctx context.Context, target string) (*domain.PeerDescriptor, error) {
	result, err := c.Call(ctx, "contacts.resolve", map[string]any{"target": target})
	if err != nil {
		return nil, err
	}

	var peer domain.PeerDescriptor
	if err := json.Unmarshal(result, &peer); err != nil {
		return nil, fmt.Errorf("parse peer descriptor: %w", err)
	}
	return &peer, nil
}

// NewestMessage returns the highest message ID in the peer's history.
func (c *Client) NewestMessage(ctx context.Context, peer *domain.PeerDescriptor) (domain.MessageID, error) {
	return c.boundaryMessage(ctx, "messages.newest", peer)
}

// OldestMessage returns the lowest message ID in the peer's history.
func (c *Client) OldestMessage(ctx context.Context, peer *domain.PeerDescriptor) (domain.MessageID, error) {
	return c.boundaryMessage(ctx, "messages.oldest", peer)
}

func (c *Client) boundaryMessage(ctx context.Context, method string, peer *domain.PeerDescriptor) (domain.MessageID, error) {
	result, err := c.Call(ctx, method, map[string]any{
		"peer_id":     peer.ID,
		"access_hash": peer.AccessHash,
	})
	if err != nil {
		return 0, err
	}

	var out struct {
		ID domain.MessageID `json:"id"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return 0, fmt.Errorf("parse boundary result: %w", err)
	}
	return out.ID, nil
}

// History returns up to limit messages with IDs strictly below
// offsetID, newest first.
func (c *Client) History(ctx context.Context, peer *domain.PeerDescriptor, offsetID domain.MessageID, limit int) ([]domain.Message, error) {
	result, err := c.Call(ctx, "messages.history", map[string]any{
		"peer_id":     peer.ID,
		"access_hash": peer.AccessHash,
		"offset_id":   offsetID,
		"limit":       limit,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("parse history page: %w", err)
	}
	return out.Messages, nil
}

// Download materializes the attachment identified by remoteID into
// destDir and returns the local path. Failures come back as transient
// FetchErrors so the retry loop backs off briefly.
func (c *Client) Download(ctx context.Context, remoteID, destDir string) (string, error) {
	url := c.endpoint + "/files/" + remoteID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &domain.FetchError{Resource: remoteID, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		return "", &domain.FetchError{Resource: remoteID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.recordFailure()
		return "", &domain.FetchError{
			Resource: remoteID,
			Err:      fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", &domain.FetchError{Resource: remoteID, Err: err}
	}

	path := filepath.Join(destDir, remoteID)
	f, err := os.Create(path)
	if err != nil {
		return "", &domain.FetchError{Resource: remoteID, Err: err}
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		c.recordFailure()
		return "", &domain.FetchError{Resource: remoteID, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", &domain.FetchError{Resource: remoteID, Err: err}
	}

	c.recordSuccess(0)
	return path, nil
}

// Close releases the connection's idle transports.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Stats returns success/failure counts and average latency.
func (c *Client) Stats() (successes, failures int, avgLatency time.Duration) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	avg := time.Duration(0)
	if c.successCount > 0 {
		avg = c.totalLatency / time.Duration(c.successCount)
	}
	return c.successCount, c.failureCount, avg
}

func (c *Client) recordSuccess(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successCount++
	c.totalLatency += latency
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
}
