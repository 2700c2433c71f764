package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// StepStatus represents the current state of a step
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepComplete
	StepFailed
)

// Step is one stage of a multi-step operation
type Step struct {
	Number  int // 1-based
	Name    string
	Status  StepStatus
	Message string // Optional note, e.g. "session 1234"
}

// Progress is a progress bar over a list of steps
type Progress struct {
	Title string
	Steps []Step

	// RunningMarker replaces the static running marker, e.g. with a spinner frame
	RunningMarker string

	bar progress.Model
}

// NewProgress creates a progress display with one pending step per name
func NewProgress(title string, names []string) *Progress {
	steps := make([]Step, len(names))
	for i, name := range names {
		steps[i] = Step{Number: i + 1, Name: name}
	}
	return &Progress{
		Title: title,
		Steps: steps,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
	}
}

// Advance marks every step before stage complete and stage itself running.
// Reporting a stage that already completed is ignored.
func (p *Progress) Advance(stage int, message string) {
	if stage < 1 || stage > len(p.Steps) {
		return
	}
	if p.Steps[stage-1].Status == StepComplete {
		return
	}
	for i := 0; i < stage-1; i++ {
		p.Steps[i].Status = StepComplete
	}
	p.Steps[stage-1].Status = StepRunning
	p.Steps[stage-1].Message = message
}

// Complete marks every step complete
func (p *Progress) Complete() {
	for i := range p.Steps {
		p.Steps[i].Status = StepComplete
	}
}

// Fail marks the running step, or the first pending one, as failed
func (p *Progress) Fail(message string) {
	for i := range p.Steps {
		if p.Steps[i].Status == StepRunning || p.Steps[i].Status == StepPending {
			p.Steps[i].Status = StepFailed
			p.Steps[i].Message = message
			return
		}
	}
}

// Percent is the share of completed steps
func (p *Progress) Percent() float64 {
	if len(p.Steps) == 0 {
		return 0
	}
	done := 0
	for _, s := range p.Steps {
		if s.Status == StepComplete {
			done++
		}
	}
	return float64(done) / float64(len(p.Steps))
}

// Render returns the styled progress display
func (p *Progress) Render() string {
	var b strings.Builder
	if p.Title != "" {
		b.WriteString(TitleStyle.Render(p.Title))
		b.WriteString("\n\n")
	}

	b.WriteString(lipgloss.NewStyle().PaddingLeft(2).Render(
		fmt.Sprintf("%s  %3.0f%%", p.bar.ViewAs(p.Percent()), p.Percent()*100)))
	b.WriteString("\n\n")

	lines := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		lines[i] = p.renderStep(s)
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}

func (p *Progress) renderStep(step Step) string {
	var marker string
	var style lipgloss.Style

	switch step.Status {
	case StepComplete:
		marker, style = StepMarkerComplete, StepCompleteStyle
	case StepRunning:
		marker, style = StepMarkerRunning, StepRunningStyle
		if p.RunningMarker != "" {
			marker = p.RunningMarker
		}
	case StepFailed:
		marker, style = FailureMarker, ErrorTitleStyle
	default:
		marker, style = StepMarkerPending, StepPendingStyle
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("  [%d/%d] ", step.Number, len(p.Steps)))
	b.WriteString(style.Render(step.Name))

	padding := 36 - lipgloss.Width(step.Name)
	if padding < 1 {
		padding = 1
	}
	b.WriteString(strings.Repeat(" ", padding))
	b.WriteString(style.Render(marker))

	if step.Message != "" {
		b.WriteString("  ")
		b.WriteString(StepNoteStyle.Render("(" + step.Message + ")"))
	}
	return b.String()
}

// String implements fmt.Stringer
func (p *Progress) String() string {
	return p.Render()
}
