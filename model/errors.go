package model

import "errors"

var (
	// ErrInsufficientFunds возвращается, когда у пользователя не хватает очков для операции.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrUserNotFound возвращается, когда пользователь не найден ни онлайн, ни в хранилище.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidArgument возвращается при неверном числе или формате аргументов команды.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidRankTable возвращается, если таблица рангов нарушает порядок уровней или порогов.
	ErrInvalidRankTable = errors.New("invalid rank table")
	// ErrInvalidOdds возвращается, если сумма вероятностей выигрыша не меньше 100.
	ErrInvalidOdds = errors.New("invalid gamble odds")
)
