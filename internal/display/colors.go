package display

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color identifies a semantic terminal color
type Color string

const (
	ColorReset         Color = "reset"
	ColorRed           Color = "red"
	ColorGreen         Color = "green"
	ColorYellow        Color = "yellow"
	ColorBlue          Color = "blue"
	ColorMagenta       Color = "magenta"
	ColorCyan          Color = "cyan"
	ColorWhite         Color = "white"
	ColorBrightRed     Color = "bright_red"
	ColorBrightGreen   Color = "bright_green"
	ColorBrightYellow  Color = "bright_yellow"
	ColorBrightBlue    Color = "bright_blue"
	ColorBrightCyan    Color = "bright_cyan"
	ColorBrightWhite   Color = "bright_white"
)

// ColorTheme maps engine output roles to colors
type ColorTheme struct {
	Success   Color
	Warning   Color
	Error     Color
	Info      Color
	Header    Color
	Muted     Color
	Highlight Color
}

// ColorSystem handles color application and terminal detection
type ColorSystem interface {
	Colorize(text string, clr Color) string
	Sprintf(clr Color, format string, args ...interface{}) string
	IsColorSupported() bool
	GetTheme() ColorTheme
}

type colorSystem struct {
	theme          ColorTheme
	colorSupported bool
	profile        termenv.Profile
	colorMap       map[Color]*color.Color
}

// NewColorSystem creates a new color system with terminal detection
func NewColorSystem(theme ColorTheme) ColorSystem {
	cs := &colorSystem{
		theme:          theme,
		colorSupported: detectColorSupport(),
		profile:        termenv.ColorProfile(),
	}

	cs.initializeColorMap()
	return cs
}

// NewPlainColorSystem creates a color system with colors forced off,
// for scripting output and tests
func NewPlainColorSystem() ColorSystem {
	cs := &colorSystem{
		theme:          PlainTheme(),
		colorSupported: false,
		profile:        termenv.Ascii,
	}

	cs.initializeColorMap()
	return cs
}

// detectColorSupport checks if the terminal supports colors
func detectColorSupport() bool {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return false
	}

	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}

	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}

	return true
}

func (cs *colorSystem) initializeColorMap() {
	cs.colorMap = map[Color]*color.Color{
		ColorReset:        color.New(color.Reset),
		ColorRed:          color.New(color.FgRed),
		ColorGreen:        color.New(color.FgGreen),
		ColorYellow:       color.New(color.FgYellow),
		ColorBlue:         color.New(color.FgBlue),
		ColorMagenta:      color.New(color.FgMagenta),
		ColorCyan:         color.New(color.FgCyan),
		ColorWhite:        color.New(color.FgWhite),
		ColorBrightRed:    color.New(color.FgHiRed),
		ColorBrightGreen:  color.New(color.FgHiGreen),
		ColorBrightYellow: color.New(color.FgHiYellow),
		ColorBrightBlue:   color.New(color.FgHiBlue),
		ColorBrightCyan:   color.New(color.FgHiCyan),
		ColorBrightWhite:  color.New(color.FgHiWhite),
	}
}

// Colorize applies color to text if color is supported
func (cs *colorSystem) Colorize(text string, clr Color) string {
	if !cs.colorSupported {
		return text
	}

	if colorFunc, exists := cs.colorMap[clr]; exists {
		return colorFunc.Sprint(text)
	}

	return text
}

// Sprintf formats text with color using a format string
func (cs *colorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Colorize(fmt.Sprintf(format, args...), clr)
}

// IsColorSupported returns whether colors are supported
func (cs *colorSystem) IsColorSupported() bool {
	return cs.colorSupported
}

// GetTheme returns the current color theme
func (cs *colorSystem) GetTheme() ColorTheme {
	return cs.theme
}

// DarkTheme returns a color theme optimized for dark terminals
func DarkTheme() ColorTheme {
	return ColorTheme{
		Success:   ColorBrightGreen,
		Warning:   ColorBrightYellow,
		Error:     ColorBrightRed,
		Info:      ColorCyan,
		Header:    ColorBrightBlue,
		Muted:     ColorWhite,
		Highlight: ColorBrightCyan,
	}
}

// LightTheme returns a color theme optimized for light terminals
func LightTheme() ColorTheme {
	return ColorTheme{
		Success:   ColorGreen,
		Warning:   ColorYellow,
		Error:     ColorRed,
		Info:      ColorBlue,
		Header:    ColorBlue,
		Muted:     ColorWhite,
		Highlight: ColorMagenta,
	}
}

// PlainTheme returns a theme that maps everything to reset (no color)
func PlainTheme() ColorTheme {
	return ColorTheme{
		Success:   ColorReset,
		Warning:   ColorReset,
		Error:     ColorReset,
		Info:      ColorReset,
		Header:    ColorReset,
		Muted:     ColorReset,
		Highlight: ColorReset,
	}
}

// GetThemeByName returns a theme for a CLI flag value
func GetThemeByName(name string) ColorTheme {
	switch name {
	case "light":
		return LightTheme()
	case "plain", "none":
		return PlainTheme()
	default:
		return DarkTheme()
	}
}
