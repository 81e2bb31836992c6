package chat

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler, maxRetries int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(Config{
		BaseURL:       srv.URL,
		ChannelToken:  "channel-token",
		WebhookSecret: "webhook-secret",
		MaxRetries:    maxRetries,
		Backoff:       time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestPushSendsTextMessage(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}), 0)

	if err := client.Push(context.Background(), "U1234", "ご予約を承りました"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if gotAuth != "Bearer channel-token" {
		t.Errorf("unexpected auth header: %s", gotAuth)
	}
	if gotBody["to"] != "U1234" {
		t.Errorf("unexpected recipient: %v", gotBody["to"])
	}
}

func TestPushRejectedNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"invalid user"}`, http.StatusBadRequest)
	}), 3)

	err := client.Push(context.Background(), "Ubad", "hello")
	if !errors.Is(err, ErrPushRejected) {
		t.Fatalf("expected ErrPushRejected, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("4xx must not be retried, got %d calls", calls.Load())
	}
}

func TestPushRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, `{"message":"try later"}`, http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), 2)

	if err := client.Push(context.Background(), "U1234", "hello"); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestGetProfileReturnsDisplayName(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/profile/U1234" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Profile{DisplayName: "山田 太郎", UserID: "U1234"})
	}), 0)

	name, err := client.GetProfile(context.Background(), "U1234")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if name != "山田 太郎" {
		t.Errorf("unexpected display name: %s", name)
	}
}

func TestVerifySignature(t *testing.T) {
	client := newTestClient(t, http.NotFoundHandler(), 0)
	body := []byte(`{"events":[{"type":"message"}]}`)

	mac := hmac.New(sha256.New, []byte("webhook-secret"))
	mac.Write(body)
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !client.VerifySignature(body, sig) {
		t.Error("expected valid signature to verify")
	}
	if client.VerifySignature(body, "bogus") {
		t.Error("expected bogus signature to fail")
	}
	if client.VerifySignature(body, "") {
		t.Error("expected empty signature to fail")
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing base URL")
	}
}
