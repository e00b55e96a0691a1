// Package status содержит словарь статусов заказа и проекцию статуса на шкалу выполнения.
//
// Все поверхности отображения (карточки панели, список заказов, таймлайн отслеживания)
// получают подписи, цвета и проценты только отсюда.
package status

import (
	"strings"

	"github.com/mmeshcher/order-tracker/internal/model"
)

// Entry хранит метаданные отображения статуса.
type Entry struct {
	Status          model.Status `json:"status"`
	Label           string       `json:"label"`
	ProgressPercent int          `json:"progressPercent"`
	Icon            string       `json:"icon"`
	Color           string       `json:"color"`
	Known           bool         `json:"known"`
}

var ordered = [...]model.Status{
	model.StatusPending,
	model.StatusAccepted,
	model.StatusInProgress,
	model.StatusCompleted,
	model.StatusRejected,
}

var labels = map[model.Status]string{
	model.StatusPending:    "Pending",
	model.StatusAccepted:   "Accepted",
	model.StatusInProgress: "In Progress",
	model.StatusCompleted:  "Completed",
	model.StatusRejected:   "Rejected",
	model.StatusUnknown:    "Unknown",
}

var icons = map[model.Status]string{
	model.StatusPending:    "clock",
	model.StatusAccepted:   "check",
	model.StatusInProgress: "spinner",
	model.StatusCompleted:  "check-circle",
	model.StatusRejected:   "x-circle",
	model.StatusUnknown:    "question-circle",
}

var colors = map[model.Status]string{
	model.StatusPending:    "warning",
	model.StatusAccepted:   "info",
	model.StatusInProgress: "primary",
	model.StatusCompleted:  "success",
	model.StatusRejected:   "danger",
	model.StatusUnknown:    "secondary",
}

// aliases сопоставляет нормализованное написание статуса каноническому.
var aliases = map[string]model.Status{
	"pending":    model.StatusPending,
	"accepted":   model.StatusAccepted,
	"approved":   model.StatusAccepted,
	"inprogress": model.StatusInProgress,
	"completed":  model.StatusCompleted,
	"rejected":   model.StatusRejected,
}

// Parse приводит строку статуса к каноническому значению.
// Регистр, пробелы, дефисы и подчёркивания не учитываются, "approved" считается "Accepted".
// Для нераспознанных строк возвращается StatusUnknown и false.
func Parse(raw string) (model.Status, bool) {
	key := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_', '\t':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(raw)))

	s, ok := aliases[key]
	if !ok {
		return model.StatusUnknown, false
	}
	return s, true
}

// IsKnown сообщает, входит ли статус в словарь.
func IsKnown(raw model.Status) bool {
	_, ok := Parse(string(raw))
	return ok
}

// IsTerminal сообщает, является ли статус конечным.
func IsTerminal(raw model.Status) bool {
	s, _ := Parse(string(raw))
	return s == model.StatusCompleted || s == model.StatusRejected
}

// Lookup возвращает метаданные отображения статуса.
// Неизвестный статус не приводит к ошибке: возвращается запись "Unknown" с 0%.
func Lookup(raw model.Status) Entry {
	s, known := Parse(string(raw))
	return Entry{
		Status:          s,
		Label:           labels[s],
		ProgressPercent: ProgressOf(s).Percent,
		Icon:            icons[s],
		Color:           colors[s],
		Known:           known,
	}
}

// Vocabulary возвращает все канонические статусы в порядке жизненного цикла.
func Vocabulary() []Entry {
	res := make([]Entry, 0, len(ordered))
	for _, s := range ordered {
		res = append(res, Lookup(s))
	}
	return res
}
