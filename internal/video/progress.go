package video

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/wkaisertexas/ScreenTimeLapse/internal/clock"
)

// StatusLine redraws a single terminal line with the recording state and the
// elapsed output time.
type StatusLine struct {
	out         io.Writer
	startTime   time.Time
	lastUpdate  time.Time
	description string
	width       int
}

func NewStatusLine(out io.Writer, description string) *StatusLine {
	return &StatusLine{
		out:         out,
		startTime:   time.Now(),
		description: description,
	}
}

// Report redraws the line. Calls closer than 100ms apart are ignored.
func (p *StatusLine) Report(state string, output time.Duration) {
	if time.Since(p.lastUpdate) < 100*time.Millisecond {
		return
	}
	p.lastUpdate = time.Now()

	line := fmt.Sprintf("\r%s [%s] output %s  real %v",
		p.description,
		state,
		clock.Format(output),
		time.Since(p.startTime).Round(time.Second),
	)
	if pad := p.width - len(line); pad > 0 {
		line += strings.Repeat(" ", pad)
	}
	p.width = len(line)
	fmt.Fprint(p.out, line)
}

func (p *StatusLine) ReportError(err error) {
	fmt.Fprintf(p.out, "\nError: %v\n", err)
}

func (p *StatusLine) ReportComplete(output time.Duration) {
	p.lastUpdate = time.Time{}
	p.Report("saved", output)
	fmt.Fprintln(p.out)
}
