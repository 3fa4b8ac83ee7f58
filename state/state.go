package state

import (
	"errors"
	"sync"
	"time"

	"github.com/pablobitw/goosegame/models"
)

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// Condition guards a transition. A nil condition always allows it.
type Condition func(s *models.Session) bool

// Machine 对局状态机，状态只能向前推进
type Machine struct {
	transitions map[models.SessionStatus]map[models.SessionStatus]Condition // from -> to -> condition
	mutex       sync.RWMutex
}

func NewMachine() *Machine {
	return &Machine{
		transitions: make(map[models.SessionStatus]map[models.SessionStatus]Condition),
	}
}

// NewSessionMachine returns the lifecycle used by every match:
// WaitingForPlayers -> InProgress -> Finished, plus WaitingForPlayers ->
// Finished for a lobby disbanded before it started.
func NewSessionMachine() *Machine {
	m := NewMachine()
	m.AddTransition(models.StatusWaitingForPlayers, models.StatusInProgress, nil)
	m.AddTransition(models.StatusWaitingForPlayers, models.StatusFinished, nil)
	m.AddTransition(models.StatusInProgress, models.StatusFinished, nil)
	return m
}

func (m *Machine) AddTransition(from, to models.SessionStatus, condition Condition) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.transitions[from]; !exists {
		m.transitions[from] = make(map[models.SessionStatus]Condition)
	}
	m.transitions[from][to] = condition
}

// CanTransition reports whether s may move to the given status.
func (m *Machine) CanTransition(s *models.Session, to models.SessionStatus) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	conditions, exists := m.transitions[s.Status]
	if !exists {
		return false
	}
	condition, exists := conditions[to]
	if !exists {
		return false
	}
	return condition == nil || condition(s)
}

// Apply moves s to the given status and stamps the lifecycle timestamps.
// s is left untouched when the transition is refused.
func (m *Machine) Apply(s *models.Session, to models.SessionStatus, now time.Time) error {
	if !m.CanTransition(s, to) {
		return ErrTransitionNotAllowed
	}

	s.Status = to
	switch to {
	case models.StatusInProgress:
		s.StartedAt = &now
	case models.StatusFinished:
		s.FinishedAt = &now
	}
	return nil
}
