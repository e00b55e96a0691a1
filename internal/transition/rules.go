// Package transition описывает допустимые переходы между статусами заказа
// и права инициаторов на их выполнение.
package transition

import (
	"fmt"

	"github.com/mmeshcher/order-tracker/internal/model"
	"github.com/mmeshcher/order-tracker/internal/status"
)

// table перечисляет разрешённые переходы для исполнителя и администратора.
var table = map[model.Status][]model.Status{
	model.StatusPending:    {model.StatusAccepted, model.StatusRejected},
	model.StatusAccepted:   {model.StatusInProgress},
	model.StatusInProgress: {model.StatusCompleted},
}

// Next возвращает статусы, в которые можно перейти из указанного.
// Для конечных и неизвестных статусов возвращается nil.
func Next(from model.Status) []model.Status {
	s, _ := status.Parse(string(from))
	next := table[s]
	if len(next) == 0 {
		return nil
	}
	res := make([]model.Status, len(next))
	copy(res, next)
	return res
}

// Allowed сообщает, есть ли переход from -> to в таблице.
func Allowed(from, to model.Status) bool {
	target, ok := status.Parse(string(to))
	if !ok {
		return false
	}
	for _, s := range Next(from) {
		if s == target {
			return true
		}
	}
	return false
}

// Check проверяет, может ли инициатор перевести запись в статус to.
func Check(actor model.Actor, rec model.TrackingRecord, to model.Status) error {
	if err := authorizeChange(actor, rec); err != nil {
		return err
	}

	if !Allowed(rec.Status, to) {
		return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, rec.Status, to)
	}

	target, _ := status.Parse(string(to))
	if target == model.StatusCompleted && rec.PaymentMethod != model.PaymentOffline && !rec.IsPaid() {
		return fmt.Errorf("%w: order %s is not paid", model.ErrInvalidTransition, rec.OrderID)
	}

	return nil
}

// CheckPayment проверяет, может ли инициатор подтвердить оплату.
// Подтверждение оплаты не меняет статус и невозможно для отклонённого заказа.
func CheckPayment(actor model.Actor, rec model.TrackingRecord) error {
	if actor.Role != model.RoleSystem && actor.Role != model.RoleAdmin {
		return fmt.Errorf("%w: role %q cannot confirm payment", model.ErrForbidden, actor.Role)
	}

	s, _ := status.Parse(string(rec.Status))
	if s == model.StatusRejected {
		return fmt.Errorf("%w: order %s is rejected", model.ErrInvalidTransition, rec.OrderID)
	}

	return nil
}

// CheckView проверяет, может ли инициатор видеть запись отслеживания.
func CheckView(actor model.Actor, rec model.TrackingRecord) error {
	switch actor.Role {
	case model.RoleAdmin, model.RoleSystem:
		return nil
	case model.RoleVendor:
		if actor.ID != "" && actor.ID == rec.VendorID {
			return nil
		}
	case model.RoleCustomer:
		if actor.ID != "" && actor.ID == rec.CustomerID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %q has no access to order %s", model.ErrForbidden, actor.Role, actor.ID, rec.OrderID)
}

func authorizeChange(actor model.Actor, rec model.TrackingRecord) error {
	switch actor.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleVendor:
		if actor.ID != "" && actor.ID == rec.VendorID {
			return nil
		}
		return fmt.Errorf("%w: vendor %q does not own order %s", model.ErrForbidden, actor.ID, rec.OrderID)
	default:
		return fmt.Errorf("%w: role %q cannot change order status", model.ErrForbidden, actor.Role)
	}
}
