package model

import "errors"

var (
	// ErrInvalidTransition возвращается, если переход из текущего статуса не разрешён.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrForbidden возвращается, если у инициатора нет прав на заказ.
	ErrForbidden = errors.New("forbidden")
	// ErrNetworkFailure возвращается, если запрос к сервису заказов не завершился.
	ErrNetworkFailure = errors.New("network failure")
	// ErrUnknownStatus возвращается, если статус не входит в словарь.
	ErrUnknownStatus = errors.New("unknown status")
	// ErrNotFound возвращается, если заказ или запись отслеживания не найдены.
	ErrNotFound = errors.New("not found")
	// ErrUpdating возвращается, если такой же запрос по заказу ещё выполняется.
	ErrUpdating = errors.New("order is updating")
)
