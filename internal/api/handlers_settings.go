package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/compliscope/compliscope/internal/auth"
	"github.com/compliscope/compliscope/internal/integrations"
	"github.com/compliscope/compliscope/internal/models"
	"github.com/compliscope/compliscope/internal/settings"
)

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	if s.deps.Integrations == nil {
		respondUnavailable(w, "integrations")
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Integrations.Connections(auth.UserID(r.Context())))
}

func (s *Server) resetIntegrations(w http.ResponseWriter, r *http.Request) {
	if s.deps.Integrations == nil {
		respondUnavailable(w, "integrations")
		return
	}
	n := s.deps.Integrations.Reset(r.Context(), auth.UserID(r.Context()))
	respondJSON(w, http.StatusOK, map[string]int{"disconnected": n})
}

func (s *Server) connector(w http.ResponseWriter, r *http.Request) (integrations.Connector, bool) {
	if s.deps.Integrations == nil {
		respondUnavailable(w, "integrations")
		return nil, false
	}
	c, err := s.deps.Integrations.Get(auth.UserID(r.Context()), integrations.Provider(chi.URLParam(r, "provider")))
	if err != nil {
		s.respondFailure(w, r, err)
		return nil, false
	}
	return c, true
}

// respondResult relays a connector result; failures become 400s carrying the
// connector's message.
func respondResult(w http.ResponseWriter, res integrations.Result) {
	if !res.Success {
		respondError(w, http.StatusBadRequest, "integration_error", res.Error)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) connectIntegration(w http.ResponseWriter, r *http.Request) {
	c, ok := s.connector(w, r)
	if !ok {
		return
	}

	var creds integrations.Credentials
	if !decodeJSON(w, r, &creds) {
		return
	}

	respondResult(w, c.Connect(r.Context(), creds))
}

func (s *Server) disconnectIntegration(w http.ResponseWriter, r *http.Request) {
	c, ok := s.connector(w, r)
	if !ok {
		return
	}
	respondResult(w, c.Disconnect(r.Context()))
}

func (s *Server) scanIntegration(w http.ResponseWriter, r *http.Request) {
	provider := integrations.Provider(chi.URLParam(r, "provider"))
	res, err := s.deps.Service.Scan(r.Context(), auth.UserID(r.Context()), provider)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondResult(w, res)
}

func (s *Server) scanAllIntegrations(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Service.ScanIntegrations(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"violationsFound": n})
}

func (s *Server) getWorkdayConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Workday == nil {
		respondUnavailable(w, "workday")
		return
	}
	cfg, err := s.deps.Workday.Config(r.Context())
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (s *Server) saveWorkdayConfig(w http.ResponseWriter, r *http.Request) {
	if s.deps.Workday == nil {
		respondUnavailable(w, "workday")
		return
	}

	var cfg integrations.WorkdayConfig
	if !decodeJSON(w, r, &cfg) {
		return
	}

	if err := s.deps.Workday.SaveConfig(r.Context(), cfg); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (s *Server) getWorkdaySyncs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Workday == nil {
		respondUnavailable(w, "workday")
		return
	}
	syncs, err := s.deps.Workday.SyncHistory(r.Context())
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, syncs)
}

type subscriptionResponse struct {
	settings.Subscription
	Quota     int `json:"quota"`
	Remaining int `json:"remaining"`
}

func newSubscriptionResponse(sub settings.Subscription) subscriptionResponse {
	return subscriptionResponse{
		Subscription: sub,
		Quota:        settings.SimulationQuota[sub.Plan],
		Remaining:    sub.Remaining(),
	}
}

func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	if s.deps.Subscriptions == nil {
		respondUnavailable(w, "subscriptions")
		return
	}
	sub, err := s.deps.Subscriptions.Get(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newSubscriptionResponse(sub))
}

type updateSubscriptionRequest struct {
	Plan settings.Plan `json:"plan"`
}

func (s *Server) updateSubscription(w http.ResponseWriter, r *http.Request) {
	if s.deps.Subscriptions == nil {
		respondUnavailable(w, "subscriptions")
		return
	}

	var req updateSubscriptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sub, err := s.deps.Subscriptions.SetPlan(r.Context(), auth.UserID(r.Context()), req.Plan)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newSubscriptionResponse(sub))
}

func (s *Server) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	if s.deps.Subscriptions == nil {
		respondUnavailable(w, "subscriptions")
		return
	}
	sub, err := s.deps.Subscriptions.Cancel(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newSubscriptionResponse(sub))
}

func (s *Server) getBranding(w http.ResponseWriter, r *http.Request) {
	if s.deps.Branding == nil {
		respondJSON(w, http.StatusOK, settings.DefaultBranding)
		return
	}
	b, err := s.deps.Branding.Get(r.Context())
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (s *Server) saveBranding(w http.ResponseWriter, r *http.Request) {
	if s.deps.Branding == nil {
		respondUnavailable(w, "branding")
		return
	}

	var b models.Branding
	if !decodeJSON(w, r, &b) {
		return
	}

	if err := s.deps.Branding.Save(r.Context(), b); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (s *Server) resetBranding(w http.ResponseWriter, r *http.Request) {
	if s.deps.Branding == nil {
		respondUnavailable(w, "branding")
		return
	}
	if err := s.deps.Branding.Reset(r.Context()); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, settings.DefaultBranding)
}

func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Webhooks == nil {
		respondUnavailable(w, "webhooks")
		return
	}
	hooks, err := s.deps.Webhooks.List()
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, hooks)
}

type createWebhookRequest struct {
	URL    string           `json:"url"`
	Events []settings.Event `json:"events"`
	Secret string           `json:"secret"`
}

func (s *Server) createWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Webhooks == nil {
		respondUnavailable(w, "webhooks")
		return
	}

	var req createWebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	hook, err := s.deps.Webhooks.Add(r.Context(), req.URL, req.Events, req.Secret)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, hook)
}

func (s *Server) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Webhooks == nil {
		respondUnavailable(w, "webhooks")
		return
	}
	if err := s.deps.Webhooks.Remove(r.Context(), chi.URLParam(r, "webhookID")); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
