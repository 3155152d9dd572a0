package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/plantacq/plantacq/pkg/sample"
)

// terminalDisplay prints a one-line summary of the most recent display window.
type terminalDisplay struct {
	out         io.Writer
	buffer      *sample.Buffer
	window      float64       // Seconds summarised per line
	minInterval time.Duration // Lines closer together than this are skipped

	mu   sync.Mutex
	last time.Time
}

func newTerminalDisplay(out io.Writer, buffer *sample.Buffer, window float64, minInterval time.Duration) *terminalDisplay {
	return &terminalDisplay{out: out, buffer: buffer, window: window, minInterval: minInterval}
}

// Show implements sample.Display.
func (d *terminalDisplay) Show(f sample.Frame) {
	if len(f.Time) == 0 {
		fmt.Fprintln(d.out, "display cleared")
		return
	}

	d.mu.Lock()
	now := time.Now()
	if now.Sub(d.last) < d.minInterval {
		d.mu.Unlock()
		return
	}
	d.last = now
	d.mu.Unlock()

	w := d.buffer.Window(d.window, 0)

	var sb strings.Builder
	fmt.Fprintf(&sb, "t=%8.3fs", f.EndTime)
	for ch, v := range f.Voltage {
		lo, hi := span(w.Voltage[ch])
		fmt.Fprintf(&sb, " | ch%d %8.2f mV [%8.2f, %8.2f]", ch, v[len(v)-1], lo, hi)
	}
	fmt.Fprintln(d.out, sb.String())
}

func span(v []float32) (lo, hi float32) {
	if len(v) == 0 {
		return 0, 0
	}
	lo, hi = math32.Inf(1), math32.Inf(-1)
	for _, x := range v {
		lo = math32.Min(lo, x)
		hi = math32.Max(hi, x)
	}
	return lo, hi
}
