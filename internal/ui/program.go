package ui

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// StageReporter tells the running program which stage has been reached
type StageReporter func(stage int, message string)

// StageMsg moves the display to a stage
type StageMsg struct {
	Stage   int
	Message string
}

// DoneMsg ends the program; a nil Err completes every step
type DoneMsg struct {
	Err error
}

// StageModel is a Bubble Tea model animating a Progress until DoneMsg
type StageModel struct {
	progress *Progress
	spinner  spinner.Model
	err      error
	done     bool
}

// NewStageModel creates a model over the given step names
func NewStageModel(title string, steps []string) StageModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = StepRunningStyle
	return StageModel{
		progress: NewProgress(title, steps),
		spinner:  s,
	}
}

// Init implements tea.Model
func (m StageModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model
func (m StageModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StageMsg:
		m.progress.Advance(msg.Stage, msg.Message)
		return m, nil

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		if msg.Err != nil {
			m.progress.Fail(msg.Err.Error())
		} else {
			m.progress.Complete()
		}
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model
func (m StageModel) View() string {
	if m.done {
		m.progress.RunningMarker = ""
	} else {
		m.progress.RunningMarker = m.spinner.View()
	}
	return m.progress.Render() + "\n"
}

// Err is the error the program finished with
func (m StageModel) Err() error {
	return m.err
}

// RunStages renders a live step list on out while watch runs. watch
// reports stages through its argument; its return value ends the program
// and is returned.
func RunStages(ctx context.Context, out io.Writer, title string, steps []string, watch func(StageReporter) error) error {
	p := tea.NewProgram(NewStageModel(title, steps),
		tea.WithContext(ctx),
		tea.WithOutput(out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)

	result := make(chan error, 1)
	go func() {
		err := watch(func(stage int, message string) {
			p.Send(StageMsg{Stage: stage, Message: message})
		})
		result <- err
		p.Send(DoneMsg{Err: err})
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to render progress: %w", err)
	}
	return <-result
}
