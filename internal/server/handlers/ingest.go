// Package handlers implements the HTTP endpoints of the ingest apps: the
// fan-out subscription endpoints that feed the archive and thaw managers,
// and health.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/annexlab/annex/internal/errors"
	"github.com/annexlab/annex/internal/server/middleware"
	"github.com/annexlab/annex/pkg/events"
)

// Archiver handles completion events.
type Archiver interface {
	HandleCompletion(ctx context.Context, event events.JobComplete) error
}

// Thawer handles tier-upgrade events.
type Thawer interface {
	HandleUpgrade(ctx context.Context, userID string) error
}

// Confirmer acknowledges a topic subscription handshake. The default
// implementation fetches the SubscribeURL once.
type Confirmer func(ctx context.Context, subscribeURL string) error

// HTTPConfirmer confirms subscriptions with a plain GET, the handshake the
// fan-out service expects.
func HTTPConfirmer(client *http.Client) Confirmer {
	return func(ctx context.Context, subscribeURL string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.Body.Close()
	}
}

// Ingest serves the fan-out subscription endpoints.
type Ingest struct {
	archiver Archiver
	thawer   Thawer
	confirm  Confirmer
	logger   *zap.Logger
}

// NewIngest creates the ingest handlers. archiver and thawer may each be
// nil when the app only serves the other endpoint.
func NewIngest(archiver Archiver, thawer Thawer, confirm Confirmer, logger *zap.Logger) *Ingest {
	return &Ingest{archiver: archiver, thawer: thawer, confirm: confirm, logger: logger}
}

// Archive is POST /archive: a completion event relayed by the fan-out
// topic.
func (h *Ingest) Archive(w http.ResponseWriter, r *http.Request) {
	handle(h, w, r, func(ctx context.Context, payload []byte) error {
		var event events.JobComplete
		if err := json.Unmarshal(payload, &event); err != nil {
			return badEnvelope(err)
		}
		return h.archiver.HandleCompletion(ctx, event)
	})
}

// Thaw is POST /thaw: a tier-upgrade event relayed by the fan-out topic.
func (h *Ingest) Thaw(w http.ResponseWriter, r *http.Request) {
	handle(h, w, r, func(ctx context.Context, payload []byte) error {
		var event events.TierUpgrade
		if err := json.Unmarshal(payload, &event); err != nil {
			return badEnvelope(err)
		}
		if event.UserID == "" {
			return badEnvelope(errMissingUserID)
		}
		return h.thawer.HandleUpgrade(ctx, event.UserID)
	})
}

// handle unwraps the fan-out envelope, runs the subscription handshake when
// needed, and maps handler errors onto the HTTP surface: 400 for a
// malformed envelope, 500 for a downstream failure.
func handle(h *Ingest, w http.ResponseWriter, r *http.Request, process func(ctx context.Context, payload []byte) error) {
	requestID := middleware.GetRequestID(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.CodeBadEnvelope,
			"unreadable request body", requestID)
		return
	}

	payload, env, err := events.Unwrap(body)
	if err != nil {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.CodeBadEnvelope,
			err.Error(), requestID)
		return
	}

	if env != nil && env.Type == events.TypeSubscriptionConfirmation {
		if err := h.confirm(r.Context(), env.SubscribeURL); err != nil {
			h.logger.Error("subscription confirmation failed", zap.Error(err))
			apperrors.WriteError(w, http.StatusInternalServerError, apperrors.CodeUpstreamFailed,
				"subscription confirmation failed", requestID)
			return
		}
		h.logger.Info("subscription confirmed", zap.String("topic", env.TopicArn))
		writeOK(w, "subscription confirmed")
		return
	}

	if err := process(r.Context(), payload); err != nil {
		if isBadEnvelope(err) {
			apperrors.WriteError(w, http.StatusBadRequest, apperrors.CodeBadEnvelope,
				err.Error(), requestID)
			return
		}
		h.logger.Error("event handling failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.CodeUpstreamFailed,
			"event handling failed", requestID)
		return
	}

	writeOK(w, "handled")
}

func writeOK(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
