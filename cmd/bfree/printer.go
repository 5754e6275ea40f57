package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bfree-trainer/bfree/internal/decode"
	"github.com/bfree-trainer/bfree/internal/registry"
	"github.com/bfree-trainer/bfree/internal/session"
	"github.com/bfree-trainer/bfree/internal/store"
	"github.com/fatih/color"
	"golang.org/x/term"
	"golang.org/x/time/rate"
)

const timeFormat = "15:04:05"

// updatePrinter writes store updates as one line each. Status and battery
// changes are always printed; measurements are throttled per role.
type updatePrinter struct {
	out      io.Writer
	maxRate  float64
	limiters map[string]*rate.Limiter
	lastCSC  map[string]decode.CSC

	warn  *color.Color
	err   *color.Color
	ok    *color.Color
	faint *color.Color
}

func newUpdatePrinter(out io.Writer, maxRate float64, colors bool) *updatePrinter {
	p := &updatePrinter{
		out:      out,
		maxRate:  maxRate,
		limiters: make(map[string]*rate.Limiter),
		lastCSC:  make(map[string]decode.CSC),
		warn:     color.New(color.FgYellow),
		err:      color.New(color.FgRed, color.Bold),
		ok:       color.New(color.FgGreen),
		faint:    color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.warn, p.err, p.ok, p.faint} {
		if colors {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// run prints updates until the feed is closed
func (p *updatePrinter) run(updates <-chan store.Update) {
	for u := range updates {
		p.print(u)
	}
}

func (p *updatePrinter) print(u store.Update) {
	var role, text string
	switch {
	case strings.HasPrefix(u.Key, "status_"):
		role = strings.TrimPrefix(u.Key, "status_")
		text = p.status(u.Value)
	case strings.HasPrefix(u.Key, "btDevice_"):
		// the device name is part of the status message
		return
	case strings.HasPrefix(u.Key, "batt_"):
		role = strings.TrimPrefix(u.Key, "batt_")
		level, ok := u.Value.(int)
		if !ok || level < 0 {
			return
		}
		text = fmt.Sprintf("battery %d%%", level)
	default:
		role = u.Key
		rpm := p.cadence(role, u.Value)
		if !p.limiter(role).AllowN(u.Time, 1) {
			return
		}
		text = formatValue(u.Value) + rpm
	}
	if text == "" {
		return
	}
	fmt.Fprintf(p.out, "%s %-26s %s\n", p.faint.Sprint(u.Time.Format(timeFormat)), role, text)
}

func (p *updatePrinter) status(v any) string {
	st, ok := v.(registry.Status)
	if !ok || st.Message == "" {
		return ""
	}
	switch st.Severity {
	case registry.SeverityWarning:
		return p.warn.Sprint(st.Message)
	case registry.SeverityError:
		return p.err.Sprint(st.Message)
	}
	if st.State == session.Connected.String() {
		return p.ok.Sprint(st.Message)
	}
	return st.Message
}

func (p *updatePrinter) limiter(role string) *rate.Limiter {
	l, ok := p.limiters[role]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.maxRate), 1)
		p.limiters[role] = l
	}
	return l
}

// cadence remembers every CSC reading of role, throttled or not, and
// returns the crank rate against the previous one
func (p *updatePrinter) cadence(role string, v any) string {
	cur, ok := v.(decode.CSC)
	if !ok {
		return ""
	}
	prev, seen := p.lastCSC[role]
	p.lastCSC[role] = cur
	if !seen {
		return ""
	}
	rpm, ok := decode.Cadence(prev, cur)
	if !ok {
		return ""
	}
	return fmt.Sprintf(" %.0f rpm", rpm)
}

// formatValue renders a measurement: raw bytes as hex, anything else as JSON
func formatValue(v any) string {
	if b, ok := v.([]byte); ok {
		return hex.EncodeToString(b)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
