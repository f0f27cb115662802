package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test", srv.URL, "token-1", 0, 5*time.Second)
}

func okEnvelope(result any) []byte {
	raw, _ := json.Marshal(result)
	data, _ := json.Marshal(map[string]any{"ok": true, "result": json.RawMessage(raw)})
	return data
}

func errEnvelope(code int, message string, retryAfter float64) []byte {
	data, _ := json.Marshal(map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":        code,
			"message":     message,
			"retry_after": retryAfter,
		},
	})
	return data
}

func TestCall_SendsAuthAndMethodPath(t *testing.T) {
	var gotPath, gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Write(okEnvelope(map[string]any{}))
	})

	if _, err := c.Call(context.Background(), "contacts.resolve", map[string]any{"target": "@x"}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	if gotPath != "/contacts.resolve" {
		t.Errorf("path = %s, want /contacts.resolve", gotPath)
	}
	if gotAuth != "Bearer token-1" {
		t.Errorf("auth header = %q, want Bearer token-1", gotAuth)
	}
}

func TestCall_FloodWaitFromStatus429(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Call(context.Background(), "messages.history", nil)

	var flood *domain.FloodWaitError
	if !errors.As(err, &flood) {
		t.Fatalf("expected FloodWaitError, got %v", err)
	}
	if flood.Seconds != 120 {
		t.Errorf("flood seconds = %v, want 120", flood.Seconds)
	}
}

func TestCall_FloodWaitFromPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(errEnvelope(420, "FLOOD_WAIT_45", 0))
	})

	_, err := c.Call(context.Background(), "messages.history", nil)

	var flood *domain.FloodWaitError
	if !errors.As(err, &flood) {
		t.Fatalf("expected FloodWaitError, got %v", err)
	}
	if flood.Seconds != 45 {
		t.Errorf("flood seconds = %v, want 45", flood.Seconds)
	}
}

func TestCall_SlowModeFromPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(errEnvelope(420, "SLOW_MODE_WAIT", 15))
	})

	_, err := c.Call(context.Background(), "messages.send", nil)

	var slow *domain.SlowModeWaitError
	if !errors.As(err, &slow) {
		t.Fatalf("expected SlowModeWaitError, got %v", err)
	}
	if slow.Seconds != 15 {
		t.Errorf("slow-mode seconds = %v, want 15", slow.Seconds)
	}
}

func TestCall_UnauthorizedIsPermanent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Call(context.Background(), "messages.history", nil)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if !domain.IsPermanent(err) {
		t.Error("unauthorized should be permanent")
	}
}

func TestCall_PeerNotFoundFromPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(errEnvelope(400, "USERNAME_INVALID", 0))
	})

	_, err := c.Call(context.Background(), "contacts.resolve", nil)
	if !errors.Is(err, domain.ErrPeerNotFound) {
		t.Fatalf("expected ErrPeerNotFound, got %v", err)
	}
}

func TestCall_TimeoutMapsToTimeoutError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write(okEnvelope(map[string]any{}))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Call(ctx, "messages.history", nil)

	var timeout *domain.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
}

func TestProbe_UpdatesZone(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(okEnvelope(map[string]any{"exists": true, "zone": 4}))
	})

	zone, err := c.Probe(context.Background(), "@archive")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if zone != 4 {
		t.Errorf("zone = %d, want 4", zone)
	}
	if c.Zone() != 4 {
		t.Errorf("client zone = %d, want 4 after probe", c.Zone())
	}
}

func TestProbe_MissingPeer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(okEnvelope(map[string]any{"exists": false}))
	})

	if _, err := c.Probe(context.Background(), "@ghost"); !errors.Is(err, domain.ErrPeerNotFound) {
		t.Fatalf("expected ErrPeerNotFound, got %v", err)
	}
}

func TestHistory_DecodesMessages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OffsetID domain.MessageID `json:"offset_id"`
			Limit    int              `json:"limit"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.OffsetID != 101 || req.Limit != 2 {
			t.Errorf("request offset/limit = %d/%d, want 101/2", req.OffsetID, req.Limit)
		}

		w.Write(okEnvelope(map[string]any{
			"messages": []map[string]any{
				{"id": 100, "text": "newest"},
				{"id": 99, "text": "older"},
			},
		}))
	})

	peer := &domain.PeerDescriptor{ID: 7, AccessHash: 99}
	msgs, err := c.History(context.Background(), peer, 101, 2)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}

	if len(msgs) != 2 || msgs[0].ID != 100 || msgs[1].ID != 99 {
		t.Errorf("unexpected page: %+v", msgs)
	}
}

func TestDownload_WritesFile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/att-1" {
			t.Errorf("path = %s, want /files/att-1", r.URL.Path)
		}
		w.Write([]byte("file-bytes"))
	})

	dir := t.TempDir()
	path, err := c.Download(context.Background(), "att-1", dir)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	if path != filepath.Join(dir, "att-1") {
		t.Errorf("path = %s, want %s", path, filepath.Join(dir, "att-1"))
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "file-bytes" {
		t.Errorf("file content = %q (err %v), want file-bytes", data, err)
	}
}

func TestDownload_ServerErrorIsFetchError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Download(context.Background(), "att-1", t.TempDir())

	var fetch *domain.FetchError
	if !errors.As(err, &fetch) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if domain.IsPermanent(err) {
		t.Error("fetch errors should be retryable")
	}
}

func TestStats_CountsOutcomes(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(okEnvelope(map[string]any{}))
	})

	c.Call(context.Background(), "messages.history", nil)
	c.Call(context.Background(), "messages.history", nil)

	successes, failures, _ := c.Stats()
	if successes != 1 || failures != 1 {
		t.Errorf("stats = %d/%d, want 1 success 1 failure", successes, failures)
	}
}
