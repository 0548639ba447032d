package bot

import (
	"testing"

	"pairarb/internal/models"
)

// TestCanTransition_ValidTransitions проверяет все валидные переходы между состояниями
func TestCanTransition_ValidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{name: "IDLE → ARMED (user arm)", from: StateIdle, to: StateArmed},
		{name: "IDLE → ERROR (late failed reply)", from: StateIdle, to: StateError},
		{name: "ARMED → AWAITING_FILL (trigger)", from: StateArmed, to: StateAwaitingFill},
		{name: "ARMED → IDLE (user disarm)", from: StateArmed, to: StateIdle},
		{name: "ARMED → ERROR (order not built)", from: StateArmed, to: StateError},
		{name: "AWAITING_FILL → ARMED (fill, leaves > 0)", from: StateAwaitingFill, to: StateArmed},
		{name: "AWAITING_FILL → IDLE (fill, leaves = 0)", from: StateAwaitingFill, to: StateIdle},
		{name: "AWAITING_FILL → ERROR (failed reply)", from: StateAwaitingFill, to: StateError},
		{name: "ERROR → ARMED (user re-arm)", from: StateError, to: StateArmed},
		{name: "ERROR → IDLE (error cleared)", from: StateError, to: StateIdle},
		{name: "ERROR → ERROR (late failed reply)", from: StateError, to: StateError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !CanTransition(tt.from, tt.to) {
				t.Errorf("CanTransition(%s, %s) = false, want true", tt.from, tt.to)
			}
		})
	}
}

// TestCanTransition_InvalidTransitions проверяет, что невалидные переходы отклоняются
func TestCanTransition_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{name: "IDLE → AWAITING_FILL (not armed)", from: StateIdle, to: StateAwaitingFill},
		{name: "IDLE → IDLE", from: StateIdle, to: StateIdle},
		{name: "ARMED → ARMED", from: StateArmed, to: StateArmed},
		{name: "AWAITING_FILL → AWAITING_FILL (second order)", from: StateAwaitingFill, to: StateAwaitingFill},
		{name: "ERROR → AWAITING_FILL (no re-arm)", from: StateError, to: StateAwaitingFill},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if CanTransition(tt.from, tt.to) {
				t.Errorf("CanTransition(%s, %s) = true, want false", tt.from, tt.to)
			}
		})
	}
}

// TestCanTransition_UnknownState проверяет поведение при неизвестном состоянии
func TestCanTransition_UnknownState(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{name: "unknown → ARMED", from: "UNKNOWN", to: StateArmed},
		{name: "ARMED → unknown", from: StateArmed, to: "UNKNOWN"},
		{name: "empty → ARMED", from: "", to: StateArmed},
		{name: "lowercase idle → ARMED", from: "idle", to: StateArmed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if CanTransition(tt.from, tt.to) {
				t.Errorf("CanTransition(%s, %s) = true, want false for unknown states", tt.from, tt.to)
			}
		})
	}
}

func TestRowState(t *testing.T) {
	tests := []struct {
		name     string
		started  bool
		inFlight bool
		err      string
		want     State
	}{
		{name: "fresh row", want: StateIdle},
		{name: "armed", started: true, want: StateArmed},
		{name: "awaiting fill", started: true, inFlight: true, want: StateAwaitingFill},
		{name: "failed", err: "pair order rejected", want: StateError},
		{name: "re-armed keeps no error", started: true, err: "", want: StateArmed},
		{name: "in flight after disarm is idle", inFlight: true, want: StateIdle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &models.PairRow{Started: tt.started, InFlight: tt.inFlight, Error: tt.err}
			if got := RowState(r); got != tt.want {
				t.Errorf("RowState() = %s, want %s", got, tt.want)
			}
		})
	}
}

// TestStateInfo_AllStates проверяет, что все состояния имеют описание
func TestStateInfo_AllStates(t *testing.T) {
	for _, s := range []State{StateIdle, StateArmed, StateAwaitingFill, StateError} {
		t.Run(string(s), func(t *testing.T) {
			info := StateInfo(s)
			if info == "" || info == "Неизвестное состояние" {
				t.Errorf("StateInfo(%s) = %q, want description", s, info)
			}
		})
	}
	if got := StateInfo("UNKNOWN"); got != "Неизвестное состояние" {
		t.Errorf("StateInfo(UNKNOWN) = %q", got)
	}
}

func TestIsActive(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StateIdle, false},
		{StateArmed, true},
		{StateAwaitingFill, true},
		{StateError, false},
		{"UNKNOWN", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := IsActive(tt.state); got != tt.want {
				t.Errorf("IsActive(%s) = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

// TestValidTransitions_Completeness проверяет, что у каждого состояния есть переходы
func TestValidTransitions_Completeness(t *testing.T) {
	for _, s := range []State{StateIdle, StateArmed, StateAwaitingFill, StateError} {
		if len(ValidTransitions[s]) == 0 {
			t.Errorf("state %s has no transitions", s)
		}
	}
}

// TestValidTransitions_NoSelfLoops - петля допустима только для ERROR
func TestValidTransitions_NoSelfLoops(t *testing.T) {
	for from, targets := range ValidTransitions {
		for _, to := range targets {
			if from == to && from != StateError {
				t.Errorf("unexpected self loop for %s", from)
			}
		}
	}
}

func TestValidTransitions_AllTargetsAreValid(t *testing.T) {
	for from, targets := range ValidTransitions {
		for _, to := range targets {
			if _, ok := ValidTransitions[to]; !ok {
				t.Errorf("transition %s → %s leads to unknown state", from, to)
			}
		}
	}
}

// TestStateFlow_FillCycle - полный цикл: взвод, две заявки, автоостановка
func TestStateFlow_FillCycle(t *testing.T) {
	flow := []State{StateIdle, StateArmed, StateAwaitingFill, StateArmed, StateAwaitingFill, StateIdle}
	for i := 0; i < len(flow)-1; i++ {
		if !CanTransition(flow[i], flow[i+1]) {
			t.Fatalf("step %d: %s → %s not allowed", i, flow[i], flow[i+1])
		}
	}
}

// TestStateFlow_ErrorRecovery - ошибка и повторный взвод
func TestStateFlow_ErrorRecovery(t *testing.T) {
	flow := []State{StateArmed, StateAwaitingFill, StateError, StateArmed}
	for i := 0; i < len(flow)-1; i++ {
		if !CanTransition(flow[i], flow[i+1]) {
			t.Fatalf("step %d: %s → %s not allowed", i, flow[i], flow[i+1])
		}
	}
}

func BenchmarkCanTransition(b *testing.B) {
	for i := 0; i < b.N; i++ {
		CanTransition(StateAwaitingFill, StateArmed)
	}
}

func BenchmarkRowState(b *testing.B) {
	r := &models.PairRow{Started: true, InFlight: true}
	for i := 0; i < b.N; i++ {
		RowState(r)
	}
}
