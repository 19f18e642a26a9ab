package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/filedrop/internal/delivery"
	"github.com/mmeshcher/filedrop/internal/repository"
	"github.com/mmeshcher/filedrop/internal/validation"
)

type emailProduct struct {
	Name          string `json:"name"`
	DownloadToken string `json:"downloadToken"`
	IsComboFile   bool   `json:"isComboFile"`
	FileNumber    int    `json:"fileNumber"`
	TotalFiles    int    `json:"totalFiles"`
}

type sendEmailRequest struct {
	OrderID          string         `json:"orderId"`
	CustomerEmail    string         `json:"customerEmail"`
	CustomerName     string         `json:"customerName"`
	Products         []emailProduct `json:"products"`
	IsComboPackEmail bool           `json:"isComboPackEmail"`
	ComboPackName    string         `json:"comboPackName"`
	EmailIndex       int            `json:"emailIndex"`
	TotalEmails      int            `json:"totalEmails"`
}

type sendEmailResponse struct {
	Success   bool              `json:"success"`
	EmailID   string            `json:"emailId,omitempty"`
	Simulated bool              `json:"simulated,omitempty"`
	Preview   *delivery.Preview `json:"preview,omitempty"`
	Message   string            `json:"message"`
}

// SendDownloadEmail отправляет одно письмо со ссылками на скачивание.
func (h *Handler) SendDownloadEmail(w http.ResponseWriter, r *http.Request) {
	var req sendEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing or invalid orderId")
		return
	}
	if err := validation.ValidateEmail(req.CustomerEmail); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid customerEmail")
		return
	}
	if len(req.Products) == 0 {
		writeError(w, http.StatusBadRequest, "No products to send")
		return
	}
	if req.IsComboPackEmail && (req.EmailIndex < 1 || req.TotalEmails < req.EmailIndex) {
		writeError(w, http.StatusBadRequest, "Invalid emailIndex/totalEmails")
		return
	}

	er := delivery.EmailRequest{
		OrderID:          orderID,
		CustomerEmail:    req.CustomerEmail,
		CustomerName:     req.CustomerName,
		IsComboPackEmail: req.IsComboPackEmail,
		ComboPackName:    req.ComboPackName,
		EmailIndex:       req.EmailIndex,
		TotalEmails:      req.TotalEmails,
	}
	for _, p := range req.Products {
		er.Products = append(er.Products, delivery.LinkItem{
			Name:          p.Name,
			DownloadToken: p.DownloadToken,
			IsComboFile:   p.IsComboFile,
			FileNumber:    p.FileNumber,
			TotalFiles:    p.TotalFiles,
		})
	}

	res, err := h.svc.Delivery.SendDownloadEmail(r.Context(), er)
	if err != nil {
		h.logger.Error("send download email error", zap.Error(err), zap.String("order_id", orderID.String()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := sendEmailResponse{
		Success:   true,
		EmailID:   res.EmailID,
		Simulated: res.Simulated,
		Preview:   res.Preview,
		Message:   "Email sent",
	}
	if res.Simulated {
		resp.Message = "Email delivery disabled, send simulated"
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResendOrder повторно отправляет ссылки по заказу, при необходимости выпуская токены.
func (h *Handler) ResendOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order id")
		return
	}

	report, err := h.svc.Delivery.DeliverOrder(r.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "Order not found")
		case errors.Is(err, delivery.ErrOrderNotDeliverable):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("resend order error", zap.Error(err), zap.String("order_id", orderID.String()))
			writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		return
	}

	writeJSON(w, http.StatusOK, report)
}
