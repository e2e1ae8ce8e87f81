package http

import (
	"net/http"

	"quiz-battle-service/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
)

// handleQR renders the join link of a battle as a PNG so a host can put it on screen.
func (h *BattleHandler) handleQR(w http.ResponseWriter, r *http.Request) {
	code := domain.NormalizeCode(chi.URLParam(r, "code"))
	if _, err := h.service.Status(r.Context(), code, ""); err != nil {
		respondError(w, h.logger, err)
		return
	}
	png, err := qrcode.Encode(h.joinURL(code), qrcode.Medium, 256)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(png)
}
