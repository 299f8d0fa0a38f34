package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/kbstudio/internal/client"
	"github.com/raphaelgruber/kbstudio/internal/importer"
	"github.com/raphaelgruber/kbstudio/internal/models"
	"github.com/raphaelgruber/kbstudio/internal/server"
	"github.com/raphaelgruber/kbstudio/internal/service"
	"golang.org/x/term"
)

const pollInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Warning: lipgloss.Color("#FFAF00"), // amber
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) warningStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Warning).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the run progress
type tickMsg time.Time

// progressUpdateMsg carries the latest progress snapshot
type progressUpdateMsg struct {
	event *server.ProgressEvent
	err   error
}

// progressModel is the bubbletea model for an import run.
type progressModel struct {
	client   *client.Client
	importID string
	event    *server.ProgressEvent
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(c *client.Client, importID string) progressModel {
	return progressModel{
		client:   c,
		importID: importID,
		progress: progress.New(progress.WithDefaultBlend(), progress.WithWidth(40)),
		theme:    defaultTheme,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.fetchProgress(), m.progress.Init())
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchProgress()

	case progressUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("fetch progress: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}
		m.event = msg.event
		if m.event.Done {
			m.done = true
			m.err = runError(m.event.Run)
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

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}
	if m.event == nil || m.event.Run == nil {
		return "Waiting for import run...\n"
	}

	run := m.event.Run
	var pct float64
	if run.Total > 0 {
		pct = float64(run.Progress) / float64(run.Total)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.event.JobStatus))
	counts := fmt.Sprintf("%d/%d rows", run.Progress, run.Total)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s\n%s\n", status, m.progress.ViewAs(pct), counts, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nImport %s continues in background.\nUse 'kbstudio jobs %s' to check status.\n",
			m.importID, m.importID)
		return m.theme.hintStyle().Render(msg)
	}
	if m.err != nil && (m.event == nil || m.event.Run == nil || m.event.Run.Summary == nil) {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Import failed: %s\n", m.err))
	}

	var b strings.Builder
	var jobStatus models.JobStatus
	if m.event != nil {
		jobStatus = m.event.JobStatus
	}
	switch jobStatus {
	case models.JobStatusCompleted:
		b.WriteString(m.theme.completedStyle().Render("✓ Completed") + "\n\n")
	case models.JobStatusCompletedWithErrors:
		b.WriteString(m.theme.warningStyle().Render("! Completed with errors") + "\n\n")
	default:
		b.WriteString(m.theme.errorStyle().Render(fmt.Sprintf("✗ Import %s", jobStatus)) + "\n\n")
	}
	if m.event != nil && m.event.Run != nil {
		writeSummary(&b, m.event.Run.Summary)
	}
	return b.String()
}

// fetchProgress runs in a command goroutine so Update never blocks.
func (m progressModel) fetchProgress() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		ev, err := m.client.Progress(ctx, m.importID)
		return progressUpdateMsg{event: ev, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunImportProgress shows the interactive progress UI for an import run.
// Ctrl+C leaves the run going on the server and returns nil.
func RunImportProgress(c *client.Client, importID string) error {
	p := tea.NewProgram(newProgressModel(c, importID))

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := finalModel.(progressModel); ok && !m.quitting {
		return m.err
	}
	return nil
}

// watchPlain streams progress over the event socket and prints one line per
// change. Used when stdout is not a terminal.
func watchPlain(ctx context.Context, c *client.Client, importID string, w io.Writer) error {
	last := -1
	var final *server.ProgressEvent
	err := c.WatchProgress(ctx, importID, func(ev server.ProgressEvent) error {
		final = &ev
		if ev.Run == nil {
			return nil
		}
		if ev.Run.Progress != last {
			last = ev.Run.Progress
			fmt.Fprintf(w, "[%s] %d/%d rows\n", ev.JobStatus, ev.Run.Progress, ev.Run.Total)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if final == nil {
		return nil
	}

	fmt.Fprintf(w, "Import %s: %s\n", importID, final.JobStatus)
	if final.Run != nil {
		writeSummary(w, final.Run.Summary)
		return runError(final.Run)
	}
	return nil
}

// follow waits for an import run to finish, with the interactive UI on a
// terminal and plain lines otherwise.
func follow(ctx context.Context, w io.Writer, importID string) error {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return RunImportProgress(apiClient, importID)
	}
	return watchPlain(ctx, apiClient, importID, w)
}

// runError turns a failed run into an error for the exit status.
func runError(run *service.Run) error {
	if run == nil || run.Status != service.RunStatusFailed {
		return nil
	}
	if run.Error != "" {
		return errors.New(run.Error)
	}
	return errors.New("import run failed")
}

func writeSummary(w io.Writer, s *importer.Summary) {
	if s == nil {
		return
	}
	if s.Skipped {
		fmt.Fprintln(w, "  No pending rows, nothing to do")
		return
	}
	fmt.Fprintf(w, "  Rows processed:  %d\n", s.ProcessedCount)
	fmt.Fprintf(w, "  Rows failed:     %d\n", s.ErrorCount)
	if s.PartialCount > 0 {
		fmt.Fprintf(w, "  Partial success: %d\n", s.PartialCount)
	}
	if s.Interrupted {
		fmt.Fprintf(w, "  Interrupted with %d rows still pending\n", s.PendingCount)
	}
	fmt.Fprintf(w, "  Duration:        %s\n", (time.Duration(s.DurationMs) * time.Millisecond).Round(time.Millisecond))
	if len(s.Errors) > 0 {
		fmt.Fprintf(w, "\n  Errors (%d):\n", len(s.Errors))
		for _, e := range s.Errors {
			fmt.Fprintf(w, "    - %s\n", e)
		}
	}
	if len(s.Warnings) > 0 {
		fmt.Fprintf(w, "\n  Warnings (%d):\n", len(s.Warnings))
		for _, e := range s.Warnings {
			fmt.Fprintf(w, "    - %s\n", e)
		}
	}
}
