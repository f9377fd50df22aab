package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

var statusKinds = map[statusKind]struct {
	label  string
	colors text.Colors
}{
	statusInfo:  {"INFO", text.Colors{text.FgBlue}},
	statusOK:    {"OK", text.Colors{text.FgGreen}},
	statusWarn:  {"WARN", text.Colors{text.FgYellow}},
	statusError: {"ERROR", text.Colors{text.FgRed}},
}

const statusLabelWidth = 20

// statusReport writes the sectioned output of `conveyor status`. Color is
// applied only when out is a terminal.
type statusReport struct {
	out      io.Writer
	colorize bool
	sections int
}

func newStatusReport(out io.Writer) *statusReport {
	return &statusReport{out: out, colorize: isTerminal(out)}
}

// section starts a titled block, separated from the previous one by a blank line.
func (r *statusReport) section(title string) {
	if r.sections > 0 {
		fmt.Fprintln(r.out)
	}
	r.sections++
	header := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(header))
	fmt.Fprintln(r.out, r.paint(statusInfo, header))
	fmt.Fprintln(r.out, r.paint(statusInfo, rule))
}

func (r *statusReport) line(label string, kind statusKind, message string) {
	tag := "[" + statusKinds[kind].label + "]"
	if message != "" {
		tag += " " + message
	}
	fmt.Fprintln(r.out, r.paint(kind, fmt.Sprintf("  %-*s %s", statusLabelWidth, label+":", tag)))
}

// check reports a pass/fail probe as OK or ERROR.
func (r *statusReport) check(label string, passed bool, detail string) {
	kind := statusError
	if passed {
		kind = statusOK
	}
	r.line(label, kind, detail)
}

func (r *statusReport) text(s string) {
	fmt.Fprint(r.out, s)
	if !strings.HasSuffix(s, "\n") {
		fmt.Fprintln(r.out)
	}
}

func (r *statusReport) paint(kind statusKind, s string) string {
	if !r.colorize {
		return s
	}
	return statusKinds[kind].colors.Sprint(s)
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
