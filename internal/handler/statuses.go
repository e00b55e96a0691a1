package handler

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/order-tracker/internal/model"
	"github.com/mmeshcher/order-tracker/internal/status"
)

type statusResponse struct {
	Entry    status.Entry    `json:"entry"`
	Progress status.Progress `json:"progress"`
}

// GetStatuses возвращает словарь статусов в порядке жизненного цикла.
func (h *Handler) GetStatuses(w http.ResponseWriter, r *http.Request) {
	vocabulary := status.Vocabulary()

	resp := make([]statusResponse, 0, len(vocabulary))
	for _, e := range vocabulary {
		resp = append(resp, statusResponse{Entry: e, Progress: status.ProgressOf(e.Status)})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetProgress возвращает отображение и прогресс для произвольной строки статуса.
// Нераспознанные значения не являются ошибкой.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "status"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Entry:    status.Lookup(model.Status(raw)),
		Progress: status.ProgressOf(model.Status(raw)),
	})
}
