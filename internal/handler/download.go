package handler

import (
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mmeshcher/filedrop/internal/download"
	"github.com/mmeshcher/filedrop/internal/repository"
	"github.com/mmeshcher/filedrop/internal/tokens"
	"github.com/mmeshcher/filedrop/internal/validation"
)

type directDownloadResponse struct {
	Success            bool   `json:"success"`
	DownloadURL        string `json:"download_url"`
	ProductName        string `json:"product_name"`
	DownloadsRemaining int    `json:"downloads_remaining"`
}

type quotaResponse struct {
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	DownloadCount int    `json:"download_count"`
	MaxDownloads  int    `json:"max_downloads"`
}

type rateLimitResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after"`
}

// DownloadFile проверяет токен и перенаправляет на подписанную ссылку.
func (h *Handler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "Missing download token")
		return
	}
	if err := validation.ValidateToken(token); err != nil {
		writeError(w, http.StatusNotFound, "Invalid download token")
		return
	}

	res, err := h.svc.Download.Download(r.Context(), clientIP(r), token)
	if err != nil {
		h.writeDownloadError(w, err)
		return
	}

	if res.DirectURL != "" {
		writeJSON(w, http.StatusOK, directDownloadResponse{
			Success:            true,
			DownloadURL:        res.DirectURL,
			ProductName:        res.ProductName,
			DownloadsRemaining: res.DownloadsRemaining,
		})
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

func (h *Handler) writeDownloadError(w http.ResponseWriter, err error) {
	var (
		rateErr  *download.RateLimitedError
		quotaErr *download.QuotaExceededError
	)

	switch {
	case errors.As(err, &rateErr):
		seconds := int(math.Ceil(rateErr.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeJSON(w, http.StatusTooManyRequests, rateLimitResponse{
			Error:      "Too many requests",
			RetryAfter: seconds,
		})
	case errors.As(err, &quotaErr):
		writeJSON(w, http.StatusTooManyRequests, quotaResponse{
			Error:         "Download limit reached",
			DownloadCount: quotaErr.DownloadCount,
			MaxDownloads:  quotaErr.MaxDownloads,
		})
	case errors.Is(err, tokens.ErrTokenExpired):
		writeError(w, http.StatusGone, "Download link has expired")
	case errors.Is(err, repository.ErrTokenNotFound):
		writeError(w, http.StatusNotFound, "Invalid download token")
	case errors.Is(err, download.ErrNoFiles),
		errors.Is(err, download.ErrFileUnavailable),
		errors.Is(err, repository.ErrProductNotFound):
		writeError(w, http.StatusNotFound, "Product file not available")
	default:
		h.logger.Error("download file error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

// clientIP возвращает адрес клиента; RealIP уже подставил адрес из прокси-заголовков.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
