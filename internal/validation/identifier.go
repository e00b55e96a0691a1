// Package validation содержит функции валидации входных данных.
package validation

const maxIDLength = 64

// IsValidID проверяет идентификатор заказа или исполнителя, пришедший в пути или параметрах запроса:
// непустая строка до 64 символов из латинских букв, цифр, '-' и '_'.
func IsValidID(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}

	for i := 0; i < len(id); i++ {
		ch := id[i]
		switch {
		case ch >= 'a' && ch <= 'z',
			ch >= 'A' && ch <= 'Z',
			ch >= '0' && ch <= '9',
			ch == '-', ch == '_':
		default:
			return false
		}
	}

	return true
}
