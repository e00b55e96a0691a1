// Package model содержит доменные сущности сервиса отслеживания заказов.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status описывает статус заказа в том виде, в котором его вернул сервис заказов.
// Значение может не входить в словарь статусов.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusAccepted   Status = "Accepted"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusRejected   Status = "Rejected"
	StatusUnknown    Status = "Unknown"
)

// PaymentState описывает состояние оплаты, независимое от статуса заказа.
type PaymentState string

const (
	PaymentUnpaid PaymentState = "unpaid"
	PaymentPaid   PaymentState = "paid"
)

// PaymentMethod определяет, подтверждается ли оплата до выполнения заказа.
type PaymentMethod string

const (
	PaymentOnline  PaymentMethod = "online"
	PaymentOffline PaymentMethod = "offline"
)

// Role описывает роль инициатора действия.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// Actor содержит явно передаваемый контекст инициатора: роль, идентификатор и bearer-токен.
type Actor struct {
	Role  Role
	ID    string
	Token string
}

// ServiceRef хранит ссылку на заказанную услугу с денормализованными полями.
type ServiceRef struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// CustomerRef хранит ссылку на покупателя с контактными данными.
type CustomerRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Order описывает заказ услуги у исполнителя.
type Order struct {
	ID            string        `json:"id"`
	Service       ServiceRef    `json:"service"`
	Customer      CustomerRef   `json:"customer"`
	VendorID      string        `json:"vendorId"`
	Quantity      int           `json:"quantity"`
	Status        Status        `json:"status"`
	PaymentState  PaymentState  `json:"paymentState"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	CreatedAt     time.Time     `json:"createdAt"`
	AcceptedAt    *time.Time    `json:"acceptedAt,omitempty"`
	InProgressAt  *time.Time    `json:"inProgressAt,omitempty"`
	CompletedAt   *time.Time    `json:"completedAt,omitempty"`
	RejectedAt    *time.Time    `json:"rejectedAt,omitempty"`
}

// Total возвращает стоимость заказа: цена услуги, умноженная на количество.
func (o Order) Total() decimal.Decimal {
	return o.Service.Price.Mul(decimal.NewFromInt(int64(o.Quantity)))
}

// TrackingRecord описывает авторитетную запись о статусе заказа, принадлежащая сервису заказов.
type TrackingRecord struct {
	ID            string        `json:"id"`
	OrderID       string        `json:"orderId"`
	VendorID      string        `json:"vendorId"`
	CustomerID    string        `json:"customerId"`
	Status        Status        `json:"status"`
	PaymentState  PaymentState  `json:"paymentState"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
	AcceptedAt    *time.Time    `json:"acceptedAt,omitempty"`
	InProgressAt  *time.Time    `json:"inProgressAt,omitempty"`
	CompletedAt   *time.Time    `json:"completedAt,omitempty"`
	RejectedAt    *time.Time    `json:"rejectedAt,omitempty"`
}

// IsPaid сообщает, подтверждена ли оплата.
func (r TrackingRecord) IsPaid() bool {
	return r.PaymentState == PaymentPaid
}

// RetainTimestamps переносит из предыдущей записи отметки времени переходов,
// которые отсутствуют в новой.
func (r TrackingRecord) RetainTimestamps(prev TrackingRecord) TrackingRecord {
	if r.ID == "" {
		r.ID = prev.ID
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = prev.CreatedAt
	}
	r.AcceptedAt = firstNonNil(r.AcceptedAt, prev.AcceptedAt)
	r.InProgressAt = firstNonNil(r.InProgressAt, prev.InProgressAt)
	r.CompletedAt = firstNonNil(r.CompletedAt, prev.CompletedAt)
	r.RejectedAt = firstNonNil(r.RejectedAt, prev.RejectedAt)
	return r
}

func firstNonNil(a, b *time.Time) *time.Time {
	if a != nil {
		return a
	}
	return b
}

// ApplyOrder переносит статус и отметки времени из заказа, возвращённого
// административным изменением статуса.
func (r TrackingRecord) ApplyOrder(o Order) TrackingRecord {
	r.Status = o.Status
	if o.PaymentState != "" {
		r.PaymentState = o.PaymentState
	}
	r.AcceptedAt = firstNonNil(o.AcceptedAt, r.AcceptedAt)
	r.InProgressAt = firstNonNil(o.InProgressAt, r.InProgressAt)
	r.CompletedAt = firstNonNil(o.CompletedAt, r.CompletedAt)
	r.RejectedAt = firstNonNil(o.RejectedAt, r.RejectedAt)
	return r
}

// StatusChange описывает подтверждённое сервером изменение записи отслеживания.
type StatusChange struct {
	ID           string         `json:"id"`
	OrderID      string         `json:"orderId"`
	TrackingID   string         `json:"trackingId"`
	From         Status         `json:"from"`
	To           Status         `json:"to"`
	PaymentState PaymentState   `json:"paymentState"`
	ActorRole    Role           `json:"actorRole"`
	ActorID      string         `json:"actorId,omitempty"`
	ChangedAt    time.Time      `json:"changedAt"`
	Record       TrackingRecord `json:"record"`
}
