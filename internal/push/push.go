// Package push wakes up devices of invited users through Web Push.
package push

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"github.com/tariel-x/meshcall/internal/config"
	"github.com/tariel-x/meshcall/internal/models"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

type Keys struct {
	P256DH string `json:"p256dh" binding:"required"`
	Auth   string `json:"auth" binding:"required"`
}

type Subscription struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     Keys   `json:"keys" binding:"required"`
}

type sendFunc func(message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error)

type Service struct {
	db     *gorm.DB
	keys   *config.VAPIDKeys
	logger *slog.Logger
	send   sendFunc
}

// New returns a push service. With nil keys subscriptions are still stored
// but nothing is sent.
func New(db *gorm.DB, keys *config.VAPIDKeys, logger *slog.Logger) *Service {
	return &Service{db: db, keys: keys, logger: logger, send: webpush.SendNotification}
}

func (s *Service) PublicKey() string {
	if s.keys == nil {
		return ""
	}
	return s.keys.PublicKey
}

// Subscribe stores sub as the user's only subscription.
func (s *Service) Subscribe(ctx context.Context, userID string, sub Subscription) (*models.PushSubscription, error) {
	if _, _, err := decodeKeys(sub.Keys.P256DH, sub.Keys.Auth); err != nil {
		return nil, err
	}

	record := models.PushSubscription{
		UserID:   userID,
		Endpoint: sub.Endpoint,
		P256DH:   strings.TrimSpace(sub.Keys.P256DH),
		Auth:     strings.TrimSpace(sub.Keys.Auth),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.PushSubscription{}).Error; err != nil {
			return err
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store subscription: %w", err)
	}
	s.logger.Info("push subscription stored", "user_id", userID)
	return &record, nil
}

func (s *Service) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	res := s.db.WithContext(ctx).Where("user_id = ? AND endpoint = ?", userID, endpoint).Delete(&models.PushSubscription{})
	if res.Error != nil {
		return fmt.Errorf("delete subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

type payload struct {
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Data    map[string]any `json:"data"`
	Urgency string         `json:"urgency"`
}

// NotifyIncomingCall sends a high-urgency notification to every stored
// subscription of userID. Subscriptions the push service reports as gone are
// deleted.
func (s *Service) NotifyIncomingCall(ctx context.Context, userID, callID, callerName string, callType models.CallType) {
	if s.keys == nil {
		return
	}
	body, err := json.Marshal(payload{
		Title:   "Incoming call",
		Body:    fmt.Sprintf("%s is calling you", callerName),
		Data:    map[string]any{"type": "incoming-call", "call_id": callID, "call_type": callType},
		Urgency: "high",
	})
	if err != nil {
		s.logger.Error("push payload encode failed", "error", err)
		return
	}

	var subs []models.PushSubscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		s.logger.Error("push subscriptions query failed", "user_id", userID, "error", err)
		return
	}

	sent := 0
	for i := range subs {
		sub := subs[i]
		if _, _, err := decodeKeys(sub.P256DH, sub.Auth); err != nil {
			s.logger.Warn("dropping malformed push subscription", "user_id", userID, "error", err)
			s.db.WithContext(ctx).Delete(&sub)
			continue
		}

		resp, err := s.send(body, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256DH, Auth: sub.Auth},
		}, &webpush.Options{
			Subscriber:      s.keys.Subject,
			VAPIDPublicKey:  s.keys.PublicKey,
			VAPIDPrivateKey: s.keys.PrivateKey,
			TTL:             30,
			Urgency:         webpush.UrgencyHigh,
		})
		if err != nil {
			s.logger.Warn("push send failed", "user_id", userID, "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			s.logger.Info("push subscription expired", "user_id", userID, "status", resp.StatusCode)
			s.db.WithContext(ctx).Delete(&sub)
			continue
		}
		sent++
	}
	s.logger.Debug("push sent", "user_id", userID, "call_id", callID, "sent", sent, "subscriptions", len(subs))
}

// decodeKeys validates browser subscription keys: a 65-byte uncompressed P-256
// point and a 16-byte auth secret.
func decodeKeys(p256dh, auth string) ([]byte, []byte, error) {
	point, err := decodeBase64(p256dh)
	if err != nil {
		return nil, nil, fmt.Errorf("p256dh: %w", err)
	}
	if len(point) != 65 || point[0] != 0x04 {
		return nil, nil, fmt.Errorf("p256dh: expected uncompressed P-256 point, got %d bytes", len(point))
	}
	secret, err := decodeBase64(auth)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: %w", err)
	}
	if len(secret) != 16 {
		return nil, nil, fmt.Errorf("auth: expected 16 bytes, got %d", len(secret))
	}
	return point, secret, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
