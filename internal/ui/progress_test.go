package ui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

var loginSteps = []string{"Connecting", "Requesting challenge", "Logging in", "Loading capabilities"}

func statuses(p *Progress) []StepStatus {
	out := make([]StepStatus, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Status
	}
	return out
}

func equalStatuses(a, b []StepStatus) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestProgressAdvance(t *testing.T) {
	p := NewProgress("", loginSteps)

	p.Advance(3, "login sent")
	want := []StepStatus{StepComplete, StepComplete, StepRunning, StepPending}
	if got := statuses(p); !equalStatuses(got, want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	if p.Steps[2].Message != "login sent" {
		t.Errorf("message = %q", p.Steps[2].Message)
	}

	// Completed stages stay completed
	p.Advance(1, "")
	if got := statuses(p); !equalStatuses(got, want) {
		t.Errorf("statuses after earlier stage = %v, want %v", got, want)
	}

	p.Advance(0, "")
	p.Advance(9, "")
	if got := statuses(p); !equalStatuses(got, want) {
		t.Errorf("out of range stage changed statuses: %v", got)
	}

	if pct := p.Percent(); pct != 0.5 {
		t.Errorf("Percent() = %v, want 0.5", pct)
	}
}

func TestProgressFail(t *testing.T) {
	p := NewProgress("", loginSteps)
	p.Advance(2, "")
	p.Fail("timed out")

	want := []StepStatus{StepComplete, StepFailed, StepPending, StepPending}
	if got := statuses(p); !equalStatuses(got, want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}

	out := p.Render()
	if !strings.Contains(out, FailureMarker) || !strings.Contains(out, "(timed out)") {
		t.Errorf("render missing failure:\n%s", out)
	}
}

func TestStageModel(t *testing.T) {
	var m tea.Model = NewStageModel("Probing", loginSteps)

	m, _ = m.Update(StageMsg{Stage: 4, Message: "2 of 5 loaded"})
	view := m.View()
	if !strings.Contains(view, "Probing") || !strings.Contains(view, "(2 of 5 loaded)") {
		t.Errorf("view missing stage:\n%s", view)
	}

	m, cmd := m.Update(DoneMsg{Err: errors.New("login rejected")})
	if cmd == nil {
		t.Fatal("DoneMsg should quit the program")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("DoneMsg should return tea.Quit")
	}
	sm := m.(StageModel)
	if sm.Err() == nil {
		t.Error("Err() should carry the failure")
	}
	if sm.progress.Steps[3].Status != StepFailed {
		t.Errorf("running step status = %v, want failed", sm.progress.Steps[3].Status)
	}
}

func TestStageModelSuccess(t *testing.T) {
	var m tea.Model = NewStageModel("", loginSteps)
	m, _ = m.Update(StageMsg{Stage: 2})
	m, _ = m.Update(DoneMsg{})

	sm := m.(StageModel)
	for i, s := range sm.progress.Steps {
		if s.Status != StepComplete {
			t.Errorf("step %d status = %v, want complete", i+1, s.Status)
		}
	}
	if !strings.Contains(sm.View(), "100%") {
		t.Errorf("view should show 100%%:\n%s", sm.View())
	}
}
