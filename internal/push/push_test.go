package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/tariel-x/meshcall/internal/config"
	"github.com/tariel-x/meshcall/internal/database"
	"github.com/tariel-x/meshcall/internal/models"
)

func newService(t *testing.T) *Service {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "push.db"))
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	keys := &config.VAPIDKeys{PublicKey: "pub", PrivateKey: "priv", Subject: "mailto:test@example.com"}
	return New(db, keys, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func browserKeys(t *testing.T) Keys {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	secret := make([]byte, 16)
	_, _ = rand.Read(secret)
	return Keys{
		P256DH: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		Auth:   base64.RawURLEncoding.EncodeToString(secret),
	}
}

func count(t *testing.T, s *Service, userID string) int64 {
	t.Helper()
	var n int64
	s.db.Model(&models.PushSubscription{}).Where("user_id = ?", userID).Count(&n)
	return n
}

func TestSubscribeReplacesPrevious(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	if _, err := s.Subscribe(ctx, "alice", Subscription{Endpoint: "https://push.example/1", Keys: browserKeys(t)}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := s.Subscribe(ctx, "alice", Subscription{Endpoint: "https://push.example/2", Keys: browserKeys(t)}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if n := count(t, s, "alice"); n != 1 {
		t.Fatalf("expected a single subscription, got %d", n)
	}

	if err := s.Unsubscribe(ctx, "alice", "https://push.example/1"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
	if err := s.Unsubscribe(ctx, "alice", "https://push.example/2"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
}

func TestSubscribeRejectsMalformedKeys(t *testing.T) {
	s := newService(t)
	_, err := s.Subscribe(context.Background(), "alice", Subscription{
		Endpoint: "https://push.example/1",
		Keys:     Keys{P256DH: "short", Auth: "short"},
	})
	if err == nil {
		t.Fatalf("expected malformed keys to be rejected")
	}
}

func TestNotifyIncomingCall(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	_, _ = s.Subscribe(ctx, "bob", Subscription{Endpoint: "https://push.example/bob", Keys: browserKeys(t)})

	var got payload
	var opts *webpush.Options
	s.send = func(message []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
		_ = json.Unmarshal(message, &got)
		opts = options
		return &http.Response{StatusCode: http.StatusCreated, Body: io.NopCloser(strings.NewReader(""))}, nil
	}

	s.NotifyIncomingCall(ctx, "bob", "call-1", "Alice", models.CallTypeVideo)

	if got.Data["call_id"] != "call-1" || !strings.Contains(got.Body, "Alice") {
		t.Fatalf("unexpected payload %+v", got)
	}
	if opts == nil || opts.Subscriber != "mailto:test@example.com" {
		t.Fatalf("unexpected options %+v", opts)
	}
	if n := count(t, s, "bob"); n != 1 {
		t.Fatalf("subscription should be kept, got %d", n)
	}
}

func TestNotifyDropsGoneSubscription(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	_, _ = s.Subscribe(ctx, "bob", Subscription{Endpoint: "https://push.example/bob", Keys: browserKeys(t)})

	s.send = func([]byte, *webpush.Subscription, *webpush.Options) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusGone, Body: io.NopCloser(strings.NewReader(""))}, nil
	}
	s.NotifyIncomingCall(ctx, "bob", "call-1", "Alice", models.CallTypeAudio)

	if n := count(t, s, "bob"); n != 0 {
		t.Fatalf("gone subscription should be deleted, got %d", n)
	}
}
