package pushnotification

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"

	"github.com/kazz187/cardflow/internal/auth"
	"github.com/kazz187/cardflow/internal/config"
	"github.com/kazz187/cardflow/internal/pushsubscription"
	"github.com/kazz187/cardflow/pkg/cerr"
)

type Server struct {
	vapidEnv *config.VAPIDEnv
	repo     pushsubscription.Repository
	notifier Notifier
	clock    clockwork.Clock
}

func NewServer(vapidEnv *config.VAPIDEnv, repo pushsubscription.Repository, notifier Notifier, clock clockwork.Clock) *Server {
	return &Server{
		vapidEnv: vapidEnv,
		repo:     repo,
		notifier: notifier,
		clock:    clock,
	}
}

func (s *Server) Mount(r chi.Router) {
	r.Route("/push", func(r chi.Router) {
		r.Get("/vapid-public-key", s.getVapidPublicKey)
		r.Post("/subscriptions", s.registerSubscription)
		r.Delete("/subscriptions", s.unregisterSubscription)
		r.Post("/test", s.sendTestNotification)
	})
}

type VapidPublicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

type SubscriptionRequest struct {
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dh_key"`
	AuthKey   string `json:"auth_key"`
}

type TestNotificationResponse struct {
	Delivered int `json:"delivered"`
}

func (s *Server) getVapidPublicKey(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.vapidEnv.Configured() {
		cerr.SetNewJSONError(ctx, cerr.FailedPrecondition, "VAPID keys not configured", nil)
		return
	}
	cerr.SetJSONResponse(ctx, &VapidPublicKeyResponse{PublicKey: s.vapidEnv.PublicKey})
}

func (s *Server) registerSubscription(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := auth.RequirePrincipal(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req SubscriptionRequest
	if err := cerr.DecodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	switch {
	case req.Endpoint == "":
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "endpoint is required", nil)
		return
	case req.P256dhKey == "":
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "p256dh_key is required", nil)
		return
	case req.AuthKey == "":
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "auth_key is required", nil)
		return
	}

	sub := &pushsubscription.Subscription{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Endpoint:  req.Endpoint,
		P256dhKey: req.P256dhKey,
		AuthKey:   req.AuthKey,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.repo.Save(ctx, sub); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, sub)
}

func (s *Server) unregisterSubscription(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := auth.RequirePrincipal(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req SubscriptionRequest
	if err := cerr.DecodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if req.Endpoint == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "endpoint is required", nil)
		return
	}
	if err := s.repo.DeleteByEndpoint(ctx, userID, req.Endpoint); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
}

func (s *Server) sendTestNotification(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := auth.RequirePrincipal(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	delivered := s.notifier.SendToUsers(ctx, []string{userID}, &NotificationPayload{
		Title: "Cardflow Test",
		Body:  "Push notifications are working!",
	})
	cerr.SetJSONResponse(ctx, &TestNotificationResponse{Delivered: delivered})
}
