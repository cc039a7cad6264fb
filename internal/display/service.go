package display

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// DisplayService renders engine progress and results to the terminal
type DisplayService interface {
	// Step status lines
	Success(message string)
	Failure(message string)
	Warning(message string)
	Info(message string)
	Step(icon, message string)

	// Structure
	PrintHeader(title string)
	PrintSummary(title string, fields map[string]string)
	ShowBatchProgress(current, total int, message string)

	RenderIcon(name string) string
	IsQuiet() bool
}

type displayService struct {
	out    io.Writer
	colors ColorSystem
	icons  IconSystem
	quiet  bool
}

// Options configures a display service
type Options struct {
	Output  io.Writer
	Theme   string
	NoColor bool
	NoIcons bool
	Quiet   bool
}

// NewDisplayService creates a display service from options
func NewDisplayService(opts Options) DisplayService {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var colors ColorSystem
	if opts.NoColor {
		colors = NewPlainColorSystem()
	} else {
		colors = NewColorSystem(GetThemeByName(opts.Theme))
	}

	var icons IconSystem
	if opts.NoIcons {
		icons = NewASCIIIconSystem()
	} else {
		icons = NewIconSystem()
	}

	return &displayService{
		out:    out,
		colors: colors,
		icons:  icons,
		quiet:  opts.Quiet,
	}
}

// NewDefaultDisplayService creates a display service writing to stdout
func NewDefaultDisplayService() DisplayService {
	return NewDisplayService(Options{})
}

func (ds *displayService) statusLine(iconName string, clr Color, message string) {
	if ds.quiet {
		return
	}
	icon := ds.colors.Colorize(ds.icons.RenderIcon(iconName), clr)
	fmt.Fprintf(ds.out, "%s %s\n", icon, message)
}

// Success prints a ✓ status line
func (ds *displayService) Success(message string) {
	ds.statusLine("success", ds.colors.GetTheme().Success, message)
}

// Failure prints a ✗ status line. Failures ignore quiet mode.
func (ds *displayService) Failure(message string) {
	icon := ds.colors.Colorize(ds.icons.RenderIcon("failure"), ds.colors.GetTheme().Error)
	fmt.Fprintf(ds.out, "%s %s\n", icon, message)
}

// Warning prints a ⚠ status line
func (ds *displayService) Warning(message string) {
	ds.statusLine("warning", ds.colors.GetTheme().Warning, message)
}

// Info prints an informational status line
func (ds *displayService) Info(message string) {
	ds.statusLine("info", ds.colors.GetTheme().Info, message)
}

// Step prints a status line with an operation icon (backup, rollback, ...)
func (ds *displayService) Step(icon, message string) {
	ds.statusLine(icon, ds.colors.GetTheme().Highlight, message)
}

// PrintHeader prints a section header with an underline
func (ds *displayService) PrintHeader(title string) {
	if ds.quiet {
		return
	}
	header := ds.colors.Colorize(title, ds.colors.GetTheme().Header)
	fmt.Fprintf(ds.out, "\n%s\n%s\n", header, strings.Repeat("=", len(title)))
}

// PrintSummary prints a final summary block with aligned keys in stable order
func (ds *displayService) PrintSummary(title string, fields map[string]string) {
	ds.PrintHeader(title)
	if ds.quiet {
		return
	}

	keys := make([]string, 0, len(fields))
	width := 0
	for k := range fields {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(ds.out, "  %-*s  %s\n", width, k, fields[k])
	}
	fmt.Fprintln(ds.out)
}

// ShowBatchProgress prints one progress line per batch of a gradual rollback
func (ds *displayService) ShowBatchProgress(current, total int, message string) {
	if ds.quiet {
		return
	}
	pct := 0
	if total > 0 {
		pct = current * 100 / total
	}
	fmt.Fprintf(ds.out, "  [%d/%d] %3d%% %s\n", current, total, pct, message)
}

// RenderIcon exposes raw icon rendering for callers composing their own lines
func (ds *displayService) RenderIcon(name string) string {
	return ds.icons.RenderIcon(name)
}

// IsQuiet reports whether non-error output is suppressed
func (ds *displayService) IsQuiet() bool {
	return ds.quiet
}
