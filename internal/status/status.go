// Package status renders the one-line terminal status of the bridge.
package status

import (
	"fmt"
	"io"
	"strings"
	"time"

	"guild-bridge/internal/scheduler"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorState   = lipgloss.Color("#20B9B4")
	colorCycle   = lipgloss.Color("#C678DD")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
)

// Line is the data shown on the status line.
type Line struct {
	State     string
	Detail    string
	Cycle     int
	Remaining time.Duration
}

func LineFor(st scheduler.ScheduleState, now time.Time) Line {
	return Line{
		State:     st.State.String(),
		Detail:    st.Status(),
		Cycle:     st.CyclesCompleted + 1,
		Remaining: st.Remaining(now),
	}
}

// Timer formats d as "MMm SSs".
func Timer(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02dm %02ds", secs/60, secs%60)
}

func (l Line) String() string {
	return fmt.Sprintf("[%s] %s | Cycle #%d | Timer %s", l.State, l.Detail, l.Cycle, Timer(l.Remaining))
}

// Renderer redraws the status line in place. Colors are dropped when out
// is not a terminal.
type Renderer struct {
	out   io.Writer
	state lipgloss.Style
	cycle lipgloss.Style
	timer lipgloss.Style
	soon  lipgloss.Style
	now   lipgloss.Style
	width int
}

func NewRenderer(out io.Writer) *Renderer {
	r := lipgloss.NewRenderer(out)
	return &Renderer{
		out:   out,
		state: r.NewStyle().Bold(true).Foreground(colorState),
		cycle: r.NewStyle().Foreground(colorCycle),
		timer: r.NewStyle(),
		soon:  r.NewStyle().Foreground(colorWarning),
		now:   r.NewStyle().Foreground(colorError),
	}
}

// Render styles l; the timer turns amber under a minute and red under ten
// seconds.
func (r *Renderer) Render(l Line) string {
	timer := r.timer
	switch {
	case l.Remaining < 10*time.Second:
		timer = r.now
	case l.Remaining < time.Minute:
		timer = r.soon
	}
	return fmt.Sprintf("%s %s | %s | Timer %s",
		r.state.Render("["+l.State+"]"),
		l.Detail,
		r.cycle.Render(fmt.Sprintf("Cycle #%d", l.Cycle)),
		timer.Render(Timer(l.Remaining)),
	)
}

// Draw overwrites the previous line with a carriage return, padding to
// clear leftovers of a longer line.
func (r *Renderer) Draw(l Line) error {
	line := r.Render(l)
	w := lipgloss.Width(line)
	pad := ""
	if w < r.width {
		pad = strings.Repeat(" ", r.width-w)
	}
	r.width = w
	_, err := fmt.Fprint(r.out, "\r"+line+pad)
	return err
}

// Clear blanks the line so a log record can be printed cleanly.
func (r *Renderer) Clear() error {
	if r.width == 0 {
		return nil
	}
	_, err := fmt.Fprint(r.out, "\r"+strings.Repeat(" ", r.width)+"\r")
	r.width = 0
	return err
}
