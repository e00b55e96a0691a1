package handler

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/order-tracker/internal/middleware"
	"github.com/mmeshcher/order-tracker/internal/model"
	"github.com/mmeshcher/order-tracker/internal/status"
	"github.com/mmeshcher/order-tracker/internal/tracker"
)

type stubTracker struct {
	view       tracker.View
	refreshErr error

	result    tracker.Result
	resultErr error

	requested model.Status
	tracked   bool
	forgotten string
	actor     model.Actor
}

func (s *stubTracker) Refresh(ctx context.Context, actor model.Actor, orderID string) (tracker.View, error) {
	s.actor = actor
	return s.view, s.refreshErr
}

func (s *stubTracker) RequestTransition(ctx context.Context, actor model.Actor, orderID string, to model.Status) (tracker.Result, error) {
	s.actor = actor
	s.requested = to
	return s.result, s.resultErr
}

func (s *stubTracker) ConfirmPayment(ctx context.Context, actor model.Actor, orderID string) (tracker.Result, error) {
	s.actor = actor
	return s.result, s.resultErr
}

func (s *stubTracker) Snapshot(orderID string) (tracker.View, bool) {
	return s.view, s.tracked
}

func (s *stubTracker) Forget(orderID string) {
	s.forgotten = orderID
}

type stubOrders struct {
	orders   []model.Order
	err      error
	vendorID string
}

func (s *stubOrders) ListVendorOrders(ctx context.Context, token, vendorID string) ([]model.Order, error) {
	s.vendorID = vendorID
	return s.orders, s.err
}

type stubHistory struct {
	record  *model.TrackingRecord
	changes []model.StatusChange
	err     error
}

func (s *stubHistory) History(ctx context.Context, orderID string) ([]model.StatusChange, error) {
	return s.changes, s.err
}

func (s *stubHistory) Record(ctx context.Context, orderID string) (*model.TrackingRecord, error) {
	if s.record == nil {
		return nil, fmt.Errorf("%w: order %s", model.ErrNotFound, orderID)
	}
	return s.record, nil
}

func newTestHandler(t *testing.T, tr Tracker, orders OrderLister, history HistoryStore) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(tr, orders, history, logger, auth)
}

func bearer(t *testing.T, h *Handler, actor model.Actor) string {
	t.Helper()
	token, err := h.authMiddleware.IssueToken(actor, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + token
}

func serve(t *testing.T, h *Handler, actor *model.Actor, method, target string, body []byte) *http.Response {
	t.Helper()

	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if actor != nil {
		req.Header.Set("Authorization", bearer(t, h, *actor))
	}

	rec := httptest.NewRecorder()
	h.SetupRouter(nil).ServeHTTP(rec, req)
	return rec.Result()
}

var (
	vendorActor   = model.Actor{Role: model.RoleVendor, ID: "v1"}
	adminActor    = model.Actor{Role: model.RoleAdmin, ID: "a1"}
	customerActor = model.Actor{Role: model.RoleCustomer, ID: "c1"}
)

func TestGetStatuses(t *testing.T) {
	h := newTestHandler(t, &stubTracker{}, &stubOrders{}, nil)

	res := serve(t, h, nil, http.MethodGet, "/api/statuses", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var got []statusResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("vocabulary size = %d, want 5", len(got))
	}
	if got[2].Entry.Status != model.StatusInProgress || got[2].Progress.Percent != 66 {
		t.Fatalf("unexpected third entry: %+v", got[2])
	}
}

func TestGetProgress(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		percent int
		label   string
	}{
		{name: "canonical", raw: "Completed", percent: 100, label: "Completed"},
		{name: "escaped alias", raw: "in%20progress", percent: 66, label: "In Progress"},
		{name: "unknown", raw: "Archived", percent: 0, label: "Unknown"},
	}

	h := newTestHandler(t, &stubTracker{}, &stubOrders{}, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := serve(t, h, nil, http.MethodGet, "/api/statuses/"+tt.raw+"/progress", nil)
			defer res.Body.Close()

			if res.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
			}
			var got statusResponse
			if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Progress.Percent != tt.percent || got.Entry.Label != tt.label {
				t.Fatalf("got %d%% %q, want %d%% %q", got.Progress.Percent, got.Entry.Label, tt.percent, tt.label)
			}
		})
	}
}

func TestGetTracking(t *testing.T) {
	rec := model.TrackingRecord{ID: "t1", OrderID: "o1", Status: model.StatusAccepted}
	tr := &stubTracker{view: tracker.View{
		Record:   rec,
		Status:   rec.Status,
		Entry:    status.Lookup(rec.Status),
		Progress: status.ProgressOf(rec.Status),
	}}
	h := newTestHandler(t, tr, &stubOrders{}, nil)

	res := serve(t, h, &vendorActor, http.MethodGet, "/api/orders/o1/tracking", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}
	if tr.actor.ID != "v1" || tr.actor.Token == "" {
		t.Fatalf("actor must carry id and raw token: %+v", tr.actor)
	}
}

func TestGetTracking_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "forbidden", err: model.ErrForbidden, want: http.StatusForbidden},
		{name: "not found", err: fmt.Errorf("refresh order o1: %w", model.ErrNotFound), want: http.StatusNotFound},
		{name: "network", err: fmt.Errorf("%w: timeout", model.ErrNetworkFailure), want: http.StatusBadGateway},
		{name: "unexpected", err: fmt.Errorf("decode response: EOF"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubTracker{refreshErr: tt.err}, &stubOrders{}, nil)

			res := serve(t, h, &vendorActor, http.MethodGet, "/api/orders/o1/tracking", nil)
			defer res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
		})
	}
}

func TestOrderRoutes_RequireAuth(t *testing.T) {
	h := newTestHandler(t, &stubTracker{}, &stubOrders{}, nil)

	res := serve(t, h, nil, http.MethodGet, "/api/orders/o1/tracking", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestOrderRoutes_InvalidOrderID(t *testing.T) {
	h := newTestHandler(t, &stubTracker{}, &stubOrders{}, nil)

	res := serve(t, h, &vendorActor, http.MethodGet, "/api/orders/o%3B1/tracking", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestRequestTransition_OutcomeMapping(t *testing.T) {
	tests := []struct {
		outcome tracker.Outcome
		err     error
		want    int
	}{
		{outcome: tracker.OutcomeApplied, want: http.StatusOK},
		{outcome: tracker.OutcomeAdopted, want: http.StatusOK},
		{outcome: tracker.OutcomeStale, want: http.StatusOK},
		{outcome: tracker.OutcomeDiscarded, want: http.StatusOK},
		{outcome: tracker.OutcomeInvalidTransition, err: model.ErrInvalidTransition, want: http.StatusUnprocessableEntity},
		{outcome: tracker.OutcomeForbidden, err: model.ErrForbidden, want: http.StatusForbidden},
		{outcome: tracker.OutcomeNotFound, err: model.ErrNotFound, want: http.StatusNotFound},
		{outcome: tracker.OutcomeNetworkFailure, err: model.ErrNetworkFailure, want: http.StatusBadGateway},
		{outcome: tracker.OutcomeInFlight, err: model.ErrUpdating, want: http.StatusConflict},
		{outcome: tracker.OutcomeFailed, err: fmt.Errorf("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			tr := &stubTracker{result: tracker.Result{Outcome: tt.outcome, Requested: model.StatusAccepted, Err: tt.err}}
			h := newTestHandler(t, tr, &stubOrders{}, nil)

			body, _ := json.Marshal(transitionRequest{Status: model.StatusAccepted})
			res := serve(t, h, &vendorActor, http.MethodPost, "/api/orders/o1/transitions", body)
			defer res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}

			var got resultResponse
			if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Outcome != tt.outcome {
				t.Fatalf("outcome = %q, want %q", got.Outcome, tt.outcome)
			}
			if tt.outcome == tracker.OutcomeFailed && got.Error != "" {
				t.Fatalf("unexpected error text must not leak: %q", got.Error)
			}
			if tr.requested != model.StatusAccepted {
				t.Fatalf("requested = %q, want Accepted", tr.requested)
			}
		})
	}
}

func TestRequestTransition_BadBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "Accepted"},
		{name: "empty status", body: `{"status":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubTracker{}, &stubOrders{}, nil)

			res := serve(t, h, &vendorActor, http.MethodPost, "/api/orders/o1/transitions", []byte(tt.body))
			defer res.Body.Close()

			if res.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
			}
		})
	}
}

func TestRequestTransition_GzipBody(t *testing.T) {
	tr := &stubTracker{result: tracker.Result{Outcome: tracker.OutcomeApplied, Requested: model.StatusInProgress}}
	h := newTestHandler(t, tr, &stubOrders{}, nil)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(`{"status":"InProgress"}`)); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/orders/o1/transitions", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Authorization", bearer(t, h, vendorActor))

	rec := httptest.NewRecorder()
	h.SetupRouter(nil).ServeHTTP(rec, req)
	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if tr.requested != model.StatusInProgress {
		t.Fatalf("requested = %q, want InProgress", tr.requested)
	}
	if ce := res.Header.Get("Content-Encoding"); ce != "gzip" {
		t.Fatalf("content-encoding = %q, want gzip", ce)
	}

	gr, err := gzip.NewReader(res.Body)
	if err != nil {
		t.Fatalf("new gzip reader: %v", err)
	}
	defer gr.Close()

	var got resultResponse
	if err := json.NewDecoder(gr).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Outcome != tracker.OutcomeApplied {
		t.Fatalf("outcome = %q, want %q", got.Outcome, tracker.OutcomeApplied)
	}
}

func TestConfirmPayment(t *testing.T) {
	tr := &stubTracker{result: tracker.Result{Outcome: tracker.OutcomeUnchanged}}
	h := newTestHandler(t, tr, &stubOrders{}, nil)

	system := model.Actor{Role: model.RoleSystem, ID: "payments"}
	res := serve(t, h, &system, http.MethodPost, "/api/orders/o1/payment", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if tr.actor.Role != model.RoleSystem {
		t.Fatalf("actor role = %q, want system", tr.actor.Role)
	}
}

func TestForgetTracking(t *testing.T) {
	tracked := tracker.View{Record: model.TrackingRecord{ID: "t1", OrderID: "o1", VendorID: "v1", CustomerID: "c1"}}
	stranger := model.Actor{Role: model.RoleCustomer, ID: "nobody"}

	tests := []struct {
		name          string
		actor         model.Actor
		tracker       *stubTracker
		want          int
		wantForgotten string
	}{
		{name: "owner vendor", actor: vendorActor, tracker: &stubTracker{view: tracked, tracked: true}, want: http.StatusNoContent, wantForgotten: "o1"},
		{name: "customer of the order", actor: customerActor, tracker: &stubTracker{view: tracked, tracked: true}, want: http.StatusNoContent, wantForgotten: "o1"},
		{name: "admin", actor: adminActor, tracker: &stubTracker{view: tracked, tracked: true}, want: http.StatusNoContent, wantForgotten: "o1"},
		{name: "stranger", actor: stranger, tracker: &stubTracker{view: tracked, tracked: true}, want: http.StatusForbidden},
		{name: "untracked", actor: stranger, tracker: &stubTracker{}, want: http.StatusNoContent, wantForgotten: "o1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, tt.tracker, &stubOrders{}, nil)

			res := serve(t, h, &tt.actor, http.MethodDelete, "/api/orders/o1/tracking", nil)
			defer res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
			if tt.tracker.forgotten != tt.wantForgotten {
				t.Fatalf("forgotten = %q, want %q", tt.tracker.forgotten, tt.wantForgotten)
			}
		})
	}
}

func TestGetHistory(t *testing.T) {
	record := &model.TrackingRecord{ID: "t1", OrderID: "o1", VendorID: "v1", CustomerID: "c1", Status: model.StatusAccepted}
	store := &stubHistory{
		record: record,
		changes: []model.StatusChange{
			{ID: "e1", OrderID: "o1", From: model.StatusPending, To: model.StatusAccepted, ActorRole: model.RoleVendor},
		},
	}

	tests := []struct {
		name    string
		actor   model.Actor
		history HistoryStore
		target  string
		want    int
	}{
		{name: "owner", actor: vendorActor, history: store, target: "/api/orders/o1/history", want: http.StatusOK},
		{name: "buyer", actor: customerActor, history: store, target: "/api/orders/o1/history", want: http.StatusOK},
		{name: "stranger", actor: model.Actor{Role: model.RoleVendor, ID: "v2"}, history: store, target: "/api/orders/o1/history", want: http.StatusForbidden},
		{name: "unknown order", actor: adminActor, history: &stubHistory{}, target: "/api/orders/o2/history", want: http.StatusNotFound},
		{name: "no store", actor: adminActor, history: nil, target: "/api/orders/o1/history", want: http.StatusNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubTracker{}, &stubOrders{}, tt.history)

			res := serve(t, h, &tt.actor, http.MethodGet, tt.target, nil)
			defer res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
			if tt.want != http.StatusOK {
				return
			}

			var got historyResponse
			if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(got.Changes) != 1 || got.Record.Status != model.StatusAccepted {
				t.Fatalf("unexpected history: %+v", got)
			}
		})
	}
}

func vendorOrders() []model.Order {
	price := decimal.RequireFromString("12.50")
	raw := []model.Status{"Pending", "approved", "InProgress", "Completed", "Pending", "Archived", "pending"}
	orders := make([]model.Order, 0, len(raw))
	for i, s := range raw {
		orders = append(orders, model.Order{
			ID:       fmt.Sprintf("o%d", i+1),
			VendorID: "v1",
			Quantity: 2,
			Status:   s,
			Service:  model.ServiceRef{ID: "s1", Name: "Cleaning", Price: price},
		})
	}
	return orders
}

func TestGetVendorOrders(t *testing.T) {
	tests := []struct {
		name      string
		actor     model.Actor
		query     string
		want      int
		wantIDs   []string
		wantTotal int
		vendorID  string
	}{
		{name: "all first page", actor: vendorActor, query: "", want: http.StatusOK, wantIDs: []string{"o1", "o2", "o3", "o4", "o5", "o6", "o7"}, wantTotal: 7, vendorID: "v1"},
		{name: "filter with alias", actor: vendorActor, query: "?status=pending", want: http.StatusOK, wantIDs: []string{"o1", "o5", "o7"}, wantTotal: 3, vendorID: "v1"},
		{name: "accepted includes approved", actor: vendorActor, query: "?status=Accepted", want: http.StatusOK, wantIDs: []string{"o2"}, wantTotal: 1, vendorID: "v1"},
		{name: "second page", actor: vendorActor, query: "?page=2&limit=3", want: http.StatusOK, wantIDs: []string{"o4", "o5", "o6"}, wantTotal: 7, vendorID: "v1"},
		{name: "past the end", actor: vendorActor, query: "?page=5&limit=3", want: http.StatusNoContent},
		{name: "huge page", actor: vendorActor, query: "?page=922337203685477582&limit=10", want: http.StatusNoContent},
		{name: "last partial page", actor: vendorActor, query: "?page=3&limit=3", want: http.StatusOK, wantIDs: []string{"o7"}, wantTotal: 7, vendorID: "v1"},
		{name: "no matches", actor: vendorActor, query: "?status=Rejected", want: http.StatusNoContent},
		{name: "unknown filter", actor: vendorActor, query: "?status=Archived", want: http.StatusBadRequest},
		{name: "bad page", actor: vendorActor, query: "?page=0", want: http.StatusBadRequest},
		{name: "admin picks vendor", actor: adminActor, query: "?vendorId=v9&status=all", want: http.StatusOK, wantTotal: 7, vendorID: "v9", wantIDs: []string{"o1", "o2", "o3", "o4", "o5", "o6", "o7"}},
		{name: "admin without vendor", actor: adminActor, query: "", want: http.StatusBadRequest},
		{name: "customer", actor: customerActor, query: "", want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &stubOrders{orders: vendorOrders()}
			h := newTestHandler(t, &stubTracker{}, orders, nil)

			res := serve(t, h, &tt.actor, http.MethodGet, "/api/vendor/orders"+tt.query, nil)
			defer res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
			if tt.want != http.StatusOK {
				return
			}
			if orders.vendorID != tt.vendorID {
				t.Fatalf("vendor = %q, want %q", orders.vendorID, tt.vendorID)
			}

			var got vendorOrdersResponse
			if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Total != tt.wantTotal {
				t.Fatalf("total = %d, want %d", got.Total, tt.wantTotal)
			}

			ids := make([]string, 0, len(got.Orders))
			for _, o := range got.Orders {
				ids = append(ids, o.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Fatalf("ids = %v, want %v", ids, tt.wantIDs)
			}
		})
	}
}

func TestGetVendorOrders_Decorated(t *testing.T) {
	h := newTestHandler(t, &stubTracker{}, &stubOrders{orders: vendorOrders()}, nil)

	res := serve(t, h, &vendorActor, http.MethodGet, "/api/vendor/orders?limit=100", nil)
	defer res.Body.Close()

	var got vendorOrdersResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}

	approved := got.Orders[1]
	if approved.Entry.Status != model.StatusAccepted || approved.Progress.Percent != 33 {
		t.Fatalf("approved must render as Accepted 33%%: %+v", approved.Entry)
	}
	archived := got.Orders[5]
	if archived.Entry.Status != model.StatusUnknown || archived.Progress.Percent != 0 {
		t.Fatalf("unknown status must render as Unknown 0%%: %+v", archived.Entry)
	}
	if !approved.Total.Equal(decimal.RequireFromString("25")) {
		t.Fatalf("total = %s, want 25", approved.Total)
	}
}

func TestGetVendorOrders_UpstreamFailure(t *testing.T) {
	h := newTestHandler(t, &stubTracker{}, &stubOrders{err: model.ErrNetworkFailure}, nil)

	res := serve(t, h, &vendorActor, http.MethodGet, "/api/vendor/orders", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadGateway)
	}
}

func TestMetricsRoute(t *testing.T) {
	h := newTestHandler(t, &stubTracker{}, &stubOrders{}, nil)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("order_tracker_transitions_total 0\n"))
	})

	rec := httptest.NewRecorder()
	h.SetupRouter(metrics).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "order_tracker_transitions_total") {
		t.Fatalf("unexpected metrics body: %q", rec.Body.String())
	}
}
