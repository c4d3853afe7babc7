package console

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cochaviz/tpn/internal/tunnel"
)

const barWidth = 30

// Progress renders the lease countdown. On a terminal it redraws a single
// line; otherwise it prints one line per minute.
type Progress struct {
	out      io.Writer
	terminal bool

	mu    sync.Mutex
	stats *tunnel.Stats
	drawn bool
}

// NewProgress writes to out. terminal selects in-place redrawing.
func NewProgress(out io.Writer, terminal bool) *Progress {
	return &Progress{out: out, terminal: terminal}
}

// Progress implements timer.Reporter.
func (p *Progress) Progress(elapsed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.terminal {
		if elapsed == 0 || elapsed == total || elapsed%60 == 0 {
			fmt.Fprintln(p.out, p.line(elapsed, total))
		}
		return
	}
	fmt.Fprintf(p.out, "\r\033[K%s", p.line(elapsed, total))
	p.drawn = true
}

// ShowStats attaches interface counters to the next redraw.
func (p *Progress) ShowStats(stats tunnel.Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = &stats
}

// Finish ends the in-place line so later output starts on a fresh one.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawn {
		fmt.Fprintln(p.out)
		p.drawn = false
	}
}

func (p *Progress) line(elapsed, total int) string {
	filled := 0
	if total > 0 {
		filled = elapsed * barWidth / total
	}
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(strings.Repeat("#", filled))
	b.WriteString(strings.Repeat("-", barWidth-filled))
	b.WriteString("] ")
	b.WriteString(clock(elapsed))
	b.WriteString(" / ")
	b.WriteString(clock(total))
	b.WriteString("  remaining ")
	b.WriteString(clock(total - elapsed))
	if p.stats != nil {
		fmt.Fprintf(&b, "  rx %s tx %s", byteSize(p.stats.ReceiveBytes), byteSize(p.stats.TransmitBytes))
		if !p.stats.LastHandshake.IsZero() {
			fmt.Fprintf(&b, "  handshake %s ago", time.Since(p.stats.LastHandshake).Truncate(time.Second))
		}
	}
	return b.String()
}

func clock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, seconds/60%60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func byteSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
