package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/order-tracker/internal/middleware"
	"github.com/mmeshcher/order-tracker/internal/model"
	"github.com/mmeshcher/order-tracker/internal/status"
	"github.com/mmeshcher/order-tracker/internal/validation"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

type vendorOrder struct {
	model.Order
	Total    decimal.Decimal `json:"total"`
	Entry    status.Entry    `json:"entry"`
	Progress status.Progress `json:"progress"`
}

type vendorOrdersResponse struct {
	Orders []vendorOrder `json:"orders"`
	Total  int           `json:"total"`
	Page   int           `json:"page"`
	Limit  int           `json:"limit"`
}

// GetVendorOrders возвращает заказы исполнителя с отображением статуса,
// отфильтрованные по статусу и разбитые на страницы.
func (h *Handler) GetVendorOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()

	var vendorID string
	switch actor.Role {
	case model.RoleVendor:
		vendorID = actor.ID
	case model.RoleAdmin:
		vendorID = q.Get("vendorId")
	default:
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	if !validation.IsValidID(vendorID) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	filter, all, ok := parseStatusFilter(q.Get("status"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	page, limit, ok := parsePage(q.Get("page"), q.Get("limit"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	orders, err := h.orders.ListVendorOrders(r.Context(), actor.Token, vendorID)
	if err != nil {
		h.writeError(w, err, "list vendor orders error", "")
		return
	}

	matched := make([]vendorOrder, 0, len(orders))
	for _, o := range orders {
		if !all {
			if s, _ := status.Parse(string(o.Status)); s != filter {
				continue
			}
		}
		matched = append(matched, vendorOrder{
			Order:    o,
			Total:    o.Total(),
			Entry:    status.Lookup(o.Status),
			Progress: status.ProgressOf(o.Status),
		})
	}

	// сравнение по числу страниц: (page-1)*limit переполняется на больших page
	pages := (len(matched) + limit - 1) / limit
	if page > pages {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	start := (page - 1) * limit
	end := min(start+limit, len(matched))

	writeJSON(w, http.StatusOK, vendorOrdersResponse{
		Orders: matched[start:end],
		Total:  len(matched),
		Page:   page,
		Limit:  limit,
	})
}

// parseStatusFilter разбирает фильтр статуса. Пустое значение и "all" отключают фильтр.
func parseStatusFilter(raw string) (model.Status, bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "all") {
		return "", true, true
	}
	s, known := status.Parse(raw)
	if !known {
		return "", false, false
	}
	return s, false, true
}

func parsePage(rawPage, rawLimit string) (int, int, bool) {
	page, limit := 1, defaultPageLimit

	if rawPage != "" {
		p, err := strconv.Atoi(rawPage)
		if err != nil || p < 1 {
			return 0, 0, false
		}
		page = p
	}

	if rawLimit != "" {
		l, err := strconv.Atoi(rawLimit)
		if err != nil || l < 1 {
			return 0, 0, false
		}
		limit = min(l, maxPageLimit)
	}

	return page, limit, true
}
