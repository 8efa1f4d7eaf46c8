package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/argusai/testrun-investigator/internal/service"
)

const pollInterval = time.Second

// fetchTimeout bounds a single status request.
const fetchTimeout = 10 * time.Second

// taskFetcher returns the current state of a task, locally or from a server.
type taskFetcher func(ctx context.Context, id string) (service.Task, error)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the task status
type tickMsg time.Time

// taskUpdateMsg carries the updated task data
type taskUpdateMsg struct {
	task service.Task
	err  error
}

// progressModel is the bubbletea model for ingestion progress.
type progressModel struct {
	fetch    taskFetcher
	taskID   string
	task     service.Task
	progress progress.Model
	theme    Theme
	// remote tasks keep running on the server after the UI quits.
	remote   bool
	done     bool
	quitting bool
	err      error
}

// newProgressModel creates a new progress model.
func newProgressModel(fetch taskFetcher, task service.Task, remote bool) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		fetch:    fetch,
		taskID:   task.ID,
		task:     task,
		progress: prog,
		theme:    defaultTheme,
		remote:   remote,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchTask()

	case taskUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch task status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.task = msg.task
		if m.task.Status.Terminal() {
			m.done = true
			m.err = taskError(m.task)
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", stageLabel(m.task)))
	progressBar := m.progress.ViewAs(taskFraction(m.task))
	counts := fmt.Sprintf("%d records", m.task.Progress.RecordsIngested)

	hint := "Press Ctrl+C to stop watching"
	if m.remote {
		hint = "Press Ctrl+C to continue in background"
	}

	return fmt.Sprintf("%s %s %s\n%s\n", status, progressBar, counts, m.theme.hintStyle().Render(hint))
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting {
		if m.remote {
			return m.theme.hintStyle().Render(fmt.Sprintf(
				"\nTask %s continues in background.\nUse 'investigator status %s' to check status.\n",
				m.taskID, m.taskID))
		}
		return m.theme.hintStyle().Render(fmt.Sprintf(
			"\nStopped watching task %s. Waiting up to %s for it to finish.\n", m.taskID, closeTimeout))
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Ingestion failed: %s\n", m.err))
	}

	return m.theme.completedStyle().Render("✓ Completed") + "\n\n" + taskSummary(m.task)
}

// fetchTask fetches the current task status.
// Runs in a separate goroutine (command) to avoid blocking Update().
func (m progressModel) fetchTask() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		task, err := m.fetch(ctx, m.taskID)
		return taskUpdateMsg{task: task, err: err}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runTaskProgress runs the interactive progress UI for a task.
// Returns nil on success or Ctrl+C, error on task failure.
func runTaskProgress(fetch taskFetcher, task service.Task, remote bool) error {
	model := newProgressModel(fetch, task, remote)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok && !m.quitting {
		return m.err
	}
	return nil
}

// pollTask prints a line whenever the task changes until it is terminal.
// It is used when stdout is not a terminal.
func pollTask(ctx context.Context, w io.Writer, fetch taskFetcher, id string, interval time.Duration) (service.Task, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	for {
		task, err := fetch(ctx, id)
		if err != nil {
			return service.Task{}, fmt.Errorf("fetch task status: %w", err)
		}
		if line := progressLine(task); line != last {
			fmt.Fprintln(w, line)
			last = line
		}
		if task.Status.Terminal() {
			return task, taskError(task)
		}

		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

// taskFraction estimates completion from the task stage.
func taskFraction(t service.Task) float64 {
	switch {
	case t.Status == service.TaskStatusCompleted:
		return 1
	case t.Status != service.TaskStatusRunning:
		return 0
	}
	switch t.Progress.Stage {
	case service.StageDownload:
		return 0.1
	case service.StageExtract:
		return 0.25
	case service.StagePush:
		if t.Progress.FilesTotal == 0 {
			return 0.3
		}
		return 0.3 + 0.7*float64(t.Progress.FilesDone)/float64(t.Progress.FilesTotal)
	default:
		return 0.05
	}
}

func stageLabel(t service.Task) string {
	if t.Status == service.TaskStatusRunning && t.Progress.Stage != "" {
		return t.Progress.Stage
	}
	return string(t.Status)
}

func progressLine(t service.Task) string {
	return fmt.Sprintf("[%s] %3.0f%% records=%d warnings=%d batches=%d",
		stageLabel(t), taskFraction(t)*100,
		t.Progress.RecordsIngested, t.Progress.Warnings, t.Progress.BatchesPushed)
}

// taskError returns the failure of a failed task, nil otherwise.
func taskError(t service.Task) error {
	if t.Status != service.TaskStatusFailed {
		return nil
	}
	if t.Error == "" {
		return errors.New("task failed with unknown error")
	}
	return errors.New(t.Error)
}

func taskSummary(t service.Task) string {
	out := fmt.Sprintf("  Run:               %s\n", t.RunID)
	out += fmt.Sprintf("  Records ingested:  %d\n", t.Progress.RecordsIngested)
	out += fmt.Sprintf("  Batches pushed:    %d\n", t.Progress.BatchesPushed)
	if t.Progress.Warnings > 0 {
		out += fmt.Sprintf("  Malformed lines:   %d\n", t.Progress.Warnings)
	}
	if t.Progress.CacheHit {
		out += "  Source:            cache\n"
	}
	return out
}
