// Package orderapi предоставляет клиент для внешнего сервиса заказов.
package orderapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/mmeshcher/order-tracker/internal/model"
)

const tracerName = "github.com/mmeshcher/order-tracker/internal/orderapi"

// APIError описывает ответ сервиса заказов с кодом ошибки и телом {message}.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("order service: status %d", e.StatusCode)
	}
	return fmt.Sprintf("order service: status %d: %s", e.StatusCode, e.Message)
}

// Unwrap сопоставляет код ответа виду ошибки.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusBadRequest,
		e.StatusCode == http.StatusConflict,
		e.StatusCode == http.StatusUnprocessableEntity:
		return model.ErrInvalidTransition
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return model.ErrForbidden
	case e.StatusCode == http.StatusNotFound:
		return model.ErrNotFound
	case e.StatusCode >= http.StatusInternalServerError:
		return model.ErrNetworkFailure
	}
	return nil
}

// Client инкапсулирует HTTP-взаимодействие с сервисом заказов.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
}

// NewClient создаёт клиент сервиса заказов по указанному адресу.
// Нулевой timeout означает значение по умолчанию.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tracer: otel.Tracer(tracerName),
	}
}

// ListVendorOrders возвращает заказы исполнителя.
func (c *Client) ListVendorOrders(ctx context.Context, token, vendorID string) ([]model.Order, error) {
	var orders []model.Order
	path := "/orders/vendor/" + url.PathEscape(vendorID)
	if err := c.do(ctx, http.MethodGet, path, token, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetTracking возвращает запись отслеживания заказа.
func (c *Client) GetTracking(ctx context.Context, token, orderID string) (*model.TrackingRecord, error) {
	var rec model.TrackingRecord
	path := "/orders/tracking/order/" + url.PathEscape(orderID)
	if err := c.do(ctx, http.MethodGet, path, token, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

type statusRequest struct {
	Status model.Status `json:"status"`
}

type paymentRequest struct {
	PaymentState model.PaymentState `json:"paymentState"`
}

// UpdateTracking запрашивает переход записи отслеживания в новый статус.
func (c *Client) UpdateTracking(ctx context.Context, token, trackingID string, s model.Status) (*model.TrackingRecord, error) {
	var rec model.TrackingRecord
	path := "/orders/tracking/" + url.PathEscape(trackingID)
	if err := c.do(ctx, http.MethodPatch, path, token, statusRequest{Status: s}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ConfirmPayment отмечает заказ оплаченным, не меняя его статус.
func (c *Client) ConfirmPayment(ctx context.Context, token, trackingID string) (*model.TrackingRecord, error) {
	var rec model.TrackingRecord
	path := "/orders/tracking/" + url.PathEscape(trackingID)
	if err := c.do(ctx, http.MethodPatch, path, token, paymentRequest{PaymentState: model.PaymentPaid}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// OverrideStatus выполняет административное изменение статуса заказа.
func (c *Client) OverrideStatus(ctx context.Context, token, orderID string, s model.Status) (*model.Order, error) {
	var order model.Order
	path := "/orders/status/" + url.PathEscape(orderID)
	if err := c.do(ctx, http.MethodPatch, path, token, statusRequest{Status: s}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

type errorBody struct {
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) (err error) {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("order service client not configured")
	}

	ctx, span := c.tracer.Start(ctx, method+" "+path, trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", req.URL.String()),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var eb errorBody
		if decodeErr := json.NewDecoder(resp.Body).Decode(&eb); decodeErr == nil {
			apiErr.Message = eb.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %v", model.ErrNetworkFailure, err)
		}
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
