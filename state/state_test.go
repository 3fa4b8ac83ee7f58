package state

import (
	"testing"
	"time"

	"github.com/pablobitw/goosegame/models"
)

func TestSessionMachine_ForwardTransitions(t *testing.T) {
	sm := NewSessionMachine()
	sess := &models.Session{Status: models.StatusWaitingForPlayers}
	now := time.Now()

	if err := sm.Apply(sess, models.StatusInProgress, now); err != nil {
		t.Fatalf("Expected Waiting -> InProgress to be allowed, got: %v", err)
	}
	if sess.StartedAt == nil {
		t.Error("Expected StartedAt to be stamped")
	}

	if err := sm.Apply(sess, models.StatusFinished, now); err != nil {
		t.Fatalf("Expected InProgress -> Finished to be allowed, got: %v", err)
	}
	if sess.FinishedAt == nil {
		t.Error("Expected FinishedAt to be stamped")
	}
}

func TestSessionMachine_RejectsBackwardTransitions(t *testing.T) {
	sm := NewSessionMachine()
	cases := []struct {
		from, to models.SessionStatus
	}{
		{models.StatusInProgress, models.StatusWaitingForPlayers},
		{models.StatusFinished, models.StatusInProgress},
		{models.StatusFinished, models.StatusWaitingForPlayers},
		{models.StatusFinished, models.StatusFinished},
	}

	for _, c := range cases {
		sess := &models.Session{Status: c.from}
		err := sm.Apply(sess, c.to, time.Now())
		if err != ErrTransitionNotAllowed {
			t.Errorf("%s -> %s: expected ErrTransitionNotAllowed, got %v", c.from, c.to, err)
		}
		if sess.Status != c.from {
			t.Errorf("%s -> %s: status changed to %s after a refused transition", c.from, c.to, sess.Status)
		}
	}
}

func TestMachine_Condition(t *testing.T) {
	sm := NewMachine()
	sm.AddTransition(models.StatusWaitingForPlayers, models.StatusInProgress, func(s *models.Session) bool {
		return s.MaxPlayers >= 2
	})

	small := &models.Session{Status: models.StatusWaitingForPlayers, MaxPlayers: 1}
	if sm.CanTransition(small, models.StatusInProgress) {
		t.Error("Expected the condition to block the transition")
	}

	ok := &models.Session{Status: models.StatusWaitingForPlayers, MaxPlayers: 4}
	if !sm.CanTransition(ok, models.StatusInProgress) {
		t.Error("Expected the condition to allow the transition")
	}
}
