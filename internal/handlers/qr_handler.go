package handlers

import (
	"net/http"

	"github.com/edupass/backend/internal/services"
)

type QRHandler struct {
	service *services.QRService
}

func NewQRHandler(service *services.QRService) *QRHandler {
	return &QRHandler{service: service}
}

// GetDepositAddress returns the platform deposit wallet address with a QR code
// @Summary Get deposit address
// @Description Returns the platform's PZO deposit wallet address and a QR code image for it
// @Tags deposits
// @Produce json
// @Success 200 {object} services.SuccessResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /point/deposit-address [get]
func (h *QRHandler) GetDepositAddress(w http.ResponseWriter, r *http.Request) {
	addr, err := h.service.GetDepositAddress(r.Context())
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}
	services.SendSuccessResponse(w, http.StatusOK, addr)
}
