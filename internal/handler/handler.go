// Package handler содержит HTTP-обработчики API сервиса отслеживания заказов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/order-tracker/internal/middleware"
	"github.com/mmeshcher/order-tracker/internal/model"
	"github.com/mmeshcher/order-tracker/internal/tracker"
	"github.com/mmeshcher/order-tracker/internal/transition"
	"github.com/mmeshcher/order-tracker/internal/validation"
)

// Tracker определяет контракт синхронизатора, используемый HTTP-обработчиками.
type Tracker interface {
	Refresh(ctx context.Context, actor model.Actor, orderID string) (tracker.View, error)
	RequestTransition(ctx context.Context, actor model.Actor, orderID string, to model.Status) (tracker.Result, error)
	ConfirmPayment(ctx context.Context, actor model.Actor, orderID string) (tracker.Result, error)
	Snapshot(orderID string) (tracker.View, bool)
	Forget(orderID string)
}

// OrderLister возвращает заказы исполнителя из сервиса заказов.
type OrderLister interface {
	ListVendorOrders(ctx context.Context, token, vendorID string) ([]model.Order, error)
}

// HistoryStore хранит подтверждённые изменения статусов.
type HistoryStore interface {
	History(ctx context.Context, orderID string) ([]model.StatusChange, error)
	Record(ctx context.Context, orderID string) (*model.TrackingRecord, error)
}

// Handler реализует HTTP-обработчики API сервиса отслеживания заказов.
type Handler struct {
	tracker        Tracker
	orders         OrderLister
	history        HistoryStore
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов. history может быть nil,
// тогда история изменений недоступна.
func NewHandler(t Tracker, orders OrderLister, history HistoryStore, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		tracker:        t,
		orders:         orders,
		history:        history,
		logger:         logger,
		authMiddleware: auth,
	}
}

type resultResponse struct {
	Outcome   tracker.Outcome `json:"outcome"`
	Requested model.Status    `json:"requested,omitempty"`
	Seq       uint64          `json:"seq"`
	View      tracker.View    `json:"view"`
	Error     string          `json:"error,omitempty"`
}

type transitionRequest struct {
	Status model.Status `json:"status"`
}

// GetTracking перечитывает запись отслеживания и возвращает её представление.
func (h *Handler) GetTracking(w http.ResponseWriter, r *http.Request) {
	actor, orderID, ok := h.orderRequest(w, r)
	if !ok {
		return
	}

	view, err := h.tracker.Refresh(r.Context(), actor, orderID)
	if err != nil {
		h.writeError(w, err, "refresh tracking error", orderID)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// RequestTransition запрашивает переход заказа в новый статус.
func (h *Handler) RequestTransition(w http.ResponseWriter, r *http.Request) {
	actor, orderID, ok := h.orderRequest(w, r)
	if !ok {
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.Status == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.tracker.RequestTransition(r.Context(), actor, orderID, req.Status)
	if err != nil {
		h.logger.Error("request transition error", zap.Error(err),
			zap.String("order", orderID), zap.String("status", string(req.Status)))
	}
	writeResult(w, res)
}

// ConfirmPayment принимает подтверждение оплаты от платёжной системы.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	actor, orderID, ok := h.orderRequest(w, r)
	if !ok {
		return
	}

	res, err := h.tracker.ConfirmPayment(r.Context(), actor, orderID)
	if err != nil {
		h.logger.Error("confirm payment error", zap.Error(err), zap.String("order", orderID))
	}
	writeResult(w, res)
}

// ForgetTracking прекращает отслеживание заказа: ответы на отправленные запросы будут отброшены.
// Забыть заказ может только тот, кому разрешён его просмотр.
func (h *Handler) ForgetTracking(w http.ResponseWriter, r *http.Request) {
	actor, orderID, ok := h.orderRequest(w, r)
	if !ok {
		return
	}

	if view, tracked := h.tracker.Snapshot(orderID); tracked {
		if err := transition.CheckView(actor, view.Record); err != nil {
			h.writeError(w, err, "forget tracking error", orderID)
			return
		}
	}

	h.tracker.Forget(orderID)
	w.WriteHeader(http.StatusNoContent)
}

type historyResponse struct {
	Record  *model.TrackingRecord `json:"record"`
	Changes []model.StatusChange  `json:"changes"`
}

// GetHistory возвращает сохранённую историю изменений статуса заказа.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	actor, orderID, ok := h.orderRequest(w, r)
	if !ok {
		return
	}

	if h.history == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}

	rec, err := h.history.Record(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err, "get tracking replica error", orderID)
		return
	}
	if err := transition.CheckView(actor, *rec); err != nil {
		h.writeError(w, err, "", orderID)
		return
	}

	changes, err := h.history.History(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err, "get history error", orderID)
		return
	}
	if changes == nil {
		changes = []model.StatusChange{}
	}

	writeJSON(w, http.StatusOK, historyResponse{Record: rec, Changes: changes})
}

// orderRequest извлекает инициатора и проверяет идентификатор заказа из пути.
func (h *Handler) orderRequest(w http.ResponseWriter, r *http.Request) (model.Actor, string, bool) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return model.Actor{}, "", false
	}

	orderID := chi.URLParam(r, "orderID")
	if !validation.IsValidID(orderID) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return model.Actor{}, "", false
	}

	return actor, orderID, true
}

// writeError отвечает кодом, соответствующим виду ошибки. Непредвиденные ошибки пишутся в журнал.
func (h *Handler) writeError(w http.ResponseWriter, err error, msg, orderID string) {
	code := errorStatus(err)
	if code == http.StatusInternalServerError && msg != "" {
		h.logger.Error(msg, zap.Error(err), zap.String("order", orderID))
	}
	http.Error(w, http.StatusText(code), code)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrUpdating):
		return http.StatusConflict
	case errors.Is(err, model.ErrNetworkFailure),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func outcomeStatus(o tracker.Outcome) int {
	switch o {
	case tracker.OutcomeInvalidTransition:
		return http.StatusUnprocessableEntity
	case tracker.OutcomeForbidden:
		return http.StatusForbidden
	case tracker.OutcomeNotFound:
		return http.StatusNotFound
	case tracker.OutcomeNetworkFailure:
		return http.StatusBadGateway
	case tracker.OutcomeInFlight:
		return http.StatusConflict
	case tracker.OutcomeFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func writeResult(w http.ResponseWriter, res tracker.Result) {
	resp := resultResponse{
		Outcome:   res.Outcome,
		Requested: res.Requested,
		Seq:       res.Seq,
		View:      res.View,
	}
	if res.Err != nil && res.Outcome != tracker.OutcomeFailed {
		resp.Error = res.Err.Error()
	}
	writeJSON(w, outcomeStatus(res.Outcome), resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
