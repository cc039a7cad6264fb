package display

import (
	"os"

	"github.com/mattn/go-isatty"
)

// Icon represents a visual icon with Unicode and ASCII fallbacks
type Icon struct {
	Unicode string
	ASCII   string
	Color   Color
}

// IconSystem handles icon rendering with fallbacks
type IconSystem interface {
	GetIcon(name string) Icon
	RenderIcon(name string) string
	IsUnicodeSupported() bool
}

type iconSystem struct {
	unicodeSupported bool
	icons            map[string]Icon
}

// NewIconSystem creates a new icon system with Unicode detection
func NewIconSystem() IconSystem {
	is := &iconSystem{
		unicodeSupported: detectUnicodeSupport(),
	}

	is.initializeIcons()
	return is
}

// NewASCIIIconSystem creates an icon system with Unicode disabled
func NewASCIIIconSystem() IconSystem {
	is := &iconSystem{unicodeSupported: false}
	is.initializeIcons()
	return is
}

// detectUnicodeSupport checks if the terminal supports Unicode characters
func detectUnicodeSupport() bool {
	if os.Getenv("FORCE_UNICODE") != "" {
		return true
	}

	if os.Getenv("NO_UNICODE") != "" {
		return false
	}

	if os.Getenv("LANG") == "C" || os.Getenv("LC_ALL") == "C" {
		return false
	}

	term := os.Getenv("TERM")
	if term == "dumb" || term == "vt100" {
		return false
	}

	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return false
	}

	return true
}

func (is *iconSystem) initializeIcons() {
	is.icons = map[string]Icon{
		// Step status icons
		"success": {Unicode: "✓", ASCII: "[OK]", Color: ColorBrightGreen},
		"failure": {Unicode: "✗", ASCII: "[FAIL]", Color: ColorBrightRed},
		"warning": {Unicode: "⚠", ASCII: "[WARN]", Color: ColorBrightYellow},
		"info":    {Unicode: "ℹ", ASCII: "[INFO]", Color: ColorCyan},
		"pending": {Unicode: "…", ASCII: "...", Color: ColorWhite},

		// Operation icons
		"backup":    {Unicode: "💾", ASCII: "[BAK]", Color: ColorBrightBlue},
		"rollback":  {Unicode: "↩", ASCII: "[RBK]", Color: ColorMagenta},
		"verify":    {Unicode: "🔍", ASCII: "[CHK]", Color: ColorCyan},
		"conflict":  {Unicode: "⚡", ASCII: "[CFL]", Color: ColorBrightYellow},
		"reconcile": {Unicode: "⇄", ASCII: "[REC]", Color: ColorBrightCyan},
		"notify":    {Unicode: "📣", ASCII: "[NTF]", Color: ColorBlue},
	}
}

// GetIcon returns the icon definition for a name
func (is *iconSystem) GetIcon(name string) Icon {
	if icon, exists := is.icons[name]; exists {
		return icon
	}
	return Icon{Unicode: "•", ASCII: "*", Color: ColorWhite}
}

// RenderIcon renders an icon using Unicode or ASCII fallback
func (is *iconSystem) RenderIcon(name string) string {
	icon := is.GetIcon(name)
	if is.unicodeSupported {
		return icon.Unicode
	}
	return icon.ASCII
}

// IsUnicodeSupported returns whether Unicode rendering is enabled
func (is *iconSystem) IsUnicodeSupported() bool {
	return is.unicodeSupported
}
