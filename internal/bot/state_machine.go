package bot

import "pairarb/internal/models"

// State - состояние строки в движке сигналов
type State string

const (
	StateIdle         State = "IDLE"          // не взведена
	StateArmed        State = "ARMED"         // взведена, ждёт условия
	StateAwaitingFill State = "AWAITING_FILL" // заявка отправлена, ждём ответ
	StateError        State = "ERROR"         // снята после неуспешного ответа
)

// ValidTransitions определяет допустимые переходы между состояниями.
// Idle/Error -> Error возможен для запоздалого ответа по уже снятой строке,
// Armed -> Error - когда заявку не удалось собрать по справочникам.
var ValidTransitions = map[State][]State{
	StateIdle:         {StateArmed, StateError},
	StateArmed:        {StateAwaitingFill, StateIdle, StateError},
	StateAwaitingFill: {StateArmed, StateIdle, StateError},
	StateError:        {StateArmed, StateIdle, StateError}, // выход только действием пользователя
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to State) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// RowState выводит состояние из флагов строки
func RowState(r *models.PairRow) State {
	switch {
	case r.Started && r.InFlight:
		return StateAwaitingFill
	case r.Started:
		return StateArmed
	case r.Error != "":
		return StateError
	default:
		return StateIdle
	}
}

// StateInfo возвращает описание состояния для UI
func StateInfo(s State) string {
	switch s {
	case StateIdle:
		return "Строка не взведена"
	case StateArmed:
		return "Строка взведена (ожидание условия)"
	case StateAwaitingFill:
		return "Заявка отправлена, ожидание ответа"
	case StateError:
		return "Ошибка заявки! Требуется перезапуск"
	default:
		return "Неизвестное состояние"
	}
}

// IsActive возвращает true если строка взведена
func IsActive(s State) bool {
	return s == StateArmed || s == StateAwaitingFill
}
