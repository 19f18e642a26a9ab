package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/filedrop/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса доставки файлов.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/healthz", h.Healthz)
	r.Get("/download-file", h.DownloadFile)
	r.Post("/resend-webhook", h.ResendWebhook)

	r.Group(func(r chi.Router) {
		r.Use(h.adminAuth.Middleware)

		r.Post("/process-refund", h.ProcessRefund)
		r.Post("/send-download-email", h.SendDownloadEmail)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/orders/{orderID}/resend", h.ResendOrder)
			r.Post("/refunds", h.CreateRefund)
			r.Post("/refunds/{refundID}/retry", h.RetryRefund)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
