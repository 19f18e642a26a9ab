package handler

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/filedrop/internal/webhook"
)

const maxWebhookBody = 1 << 20

// ResendWebhook принимает подписанные события доставки писем.
// На любое событие, которое удалось проверить и разобрать, отвечает 200.
func (h *Handler) ResendWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unreadable body")
		return
	}

	if err := h.svc.Webhook.Authenticate(r.Context(), r.Header, body); err != nil {
		if errors.Is(err, webhook.ErrSecretNotConfigured) {
			h.logger.Error("webhook secret not configured", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Webhook verification not configured")
			return
		}
		h.logger.Warn("webhook signature rejected", zap.Error(err))
		writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	ev, err := webhook.ParseEvent(body)
	if err != nil {
		h.logger.Warn("malformed webhook event", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Malformed event")
		return
	}

	out, err := h.svc.Webhook.Handle(r.Context(), ev)
	if err != nil {
		h.logger.Error("webhook processing error", zap.Error(err), zap.String("type", ev.RawType))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	writeJSON(w, http.StatusOK, out)
}
