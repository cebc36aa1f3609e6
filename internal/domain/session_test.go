package domain_test

import (
	"testing"

	"github.com/chattrain/chattrain/internal/domain"
)

func TestSession_Transition(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.SessionStatus
		to      domain.SessionStatus
		wantErr bool
	}{
		{"created to in_progress", domain.SessionCreated, domain.SessionInProgress, false},
		{"created to abandoned", domain.SessionCreated, domain.SessionAbandoned, false},
		{"in_progress to completed", domain.SessionInProgress, domain.SessionCompleted, false},
		{"in_progress to abandoned", domain.SessionInProgress, domain.SessionAbandoned, false},
		{"in_progress to errored", domain.SessionInProgress, domain.SessionErrored, false},
		{"in_progress stays in_progress", domain.SessionInProgress, domain.SessionInProgress, false},

		{"completed to in_progress", domain.SessionCompleted, domain.SessionInProgress, true},
		{"completed to abandoned", domain.SessionCompleted, domain.SessionAbandoned, true},
		{"abandoned to completed", domain.SessionAbandoned, domain.SessionCompleted, true},
		{"errored to in_progress", domain.SessionErrored, domain.SessionInProgress, true},
		{"completed to created", domain.SessionCompleted, domain.SessionCreated, true},
		{"in_progress to created", domain.SessionInProgress, domain.SessionCreated, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &domain.Session{Status: tt.from}
			err := s.Transition(tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("Transition(%s -> %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
			if tt.wantErr && s.Status != tt.from {
				t.Errorf("failed transition mutated status to %s", s.Status)
			}
		})
	}
}

func TestSession_TerminalSetsCompletedAt(t *testing.T) {
	s := &domain.Session{Status: domain.SessionInProgress}
	if err := s.Transition(domain.SessionCompleted); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if s.CompletedAt == nil {
		t.Error("CompletedAt not set on terminal transition")
	}
	if !s.Status.Terminal() {
		t.Error("completed status not terminal")
	}
}

func TestSessionStatus_Terminal(t *testing.T) {
	terminal := []domain.SessionStatus{domain.SessionCompleted, domain.SessionAbandoned, domain.SessionErrored}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []domain.SessionStatus{domain.SessionCreated, domain.SessionInProgress} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
