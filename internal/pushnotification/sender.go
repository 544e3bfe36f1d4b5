package pushnotification

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/sourcegraph/conc/pool"

	"github.com/kazz187/cardflow/internal/config"
	"github.com/kazz187/cardflow/internal/pushsubscription"
)

const (
	notificationTTL = 86400
	maxConcurrency  = 8
)

type NotificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Notifier delivers a payload to every subscription of the given users.
type Notifier interface {
	SendToUsers(ctx context.Context, userIDs []string, payload *NotificationPayload) int
}

type Sender struct {
	vapidEnv   *config.VAPIDEnv
	repo       pushsubscription.Repository
	httpClient webpush.HTTPClient
}

var _ Notifier = (*Sender)(nil)

type SenderOption func(*Sender)

func WithHTTPClient(c webpush.HTTPClient) SenderOption {
	return func(s *Sender) {
		s.httpClient = c
	}
}

func NewSender(vapidEnv *config.VAPIDEnv, repo pushsubscription.Repository, opts ...SenderOption) *Sender {
	s := &Sender{
		vapidEnv: vapidEnv,
		repo:     repo,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendToUsers returns the number of subscriptions that accepted the push.
func (s *Sender) SendToUsers(ctx context.Context, userIDs []string, payload *NotificationPayload) int {
	if !s.vapidEnv.Configured() {
		slog.WarnContext(ctx, "push notification: VAPID keys not configured, skipping")
		return 0
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "push notification: failed to marshal payload", "error", err)
		return 0
	}

	var subs []*pushsubscription.Subscription
	for _, userID := range userIDs {
		userSubs, err := s.repo.ListByUser(ctx, userID)
		if err != nil {
			slog.ErrorContext(ctx, "push notification: failed to list subscriptions", "user_id", userID, "error", err)
			continue
		}
		subs = append(subs, userSubs...)
	}

	p := pool.NewWithResults[bool]().WithMaxGoroutines(maxConcurrency)
	for _, sub := range subs {
		p.Go(func() bool {
			return s.sendToSubscription(ctx, sub, data)
		})
	}
	delivered := 0
	for _, ok := range p.Wait() {
		if ok {
			delivered++
		}
	}
	return delivered
}

func (s *Sender) sendToSubscription(ctx context.Context, sub *pushsubscription.Subscription, data []byte) bool {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, data, wpSub, &webpush.Options{
		HTTPClient:      s.httpClient,
		VAPIDPublicKey:  s.vapidEnv.PublicKey,
		VAPIDPrivateKey: s.vapidEnv.PrivateKey,
		Subscriber:      s.vapidEnv.Subject,
		TTL:             notificationTTL,
	})
	if err != nil {
		slog.ErrorContext(ctx, "push notification: failed to send", "endpoint", sub.Endpoint, "error", err)
		return false
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		slog.InfoContext(ctx, "push notification: subscription expired, removing", "endpoint", sub.Endpoint)
		if err := s.repo.Delete(ctx, sub.UserID, sub.ID); err != nil {
			slog.ErrorContext(ctx, "push notification: failed to delete expired subscription", "id", sub.ID, "error", err)
		}
		return false
	case resp.StatusCode >= 400:
		slog.WarnContext(ctx, "push notification: unexpected status", "endpoint", sub.Endpoint, "status", resp.StatusCode)
		return false
	}
	return true
}
