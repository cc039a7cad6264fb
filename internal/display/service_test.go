package display

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestService(buf *bytes.Buffer) DisplayService {
	return NewDisplayService(Options{Output: buf, NoColor: true, NoIcons: true})
}

func TestStatusLines(t *testing.T) {
	var buf bytes.Buffer
	ds := newTestService(&buf)

	ds.Success("backup created")
	ds.Failure("rollback command failed")
	ds.Warning("unrecognized backup format")
	ds.Info("3 migrations applied")

	out := buf.String()
	assert.Contains(t, out, "[OK] backup created")
	assert.Contains(t, out, "[FAIL] rollback command failed")
	assert.Contains(t, out, "[WARN] unrecognized backup format")
	assert.Contains(t, out, "[INFO] 3 migrations applied")
}

func TestQuietSuppressesAllButFailures(t *testing.T) {
	var buf bytes.Buffer
	ds := NewDisplayService(Options{Output: &buf, NoColor: true, NoIcons: true, Quiet: true})

	ds.Success("hidden")
	ds.Info("hidden")
	ds.Warning("hidden")
	ds.PrintHeader("hidden")
	ds.Failure("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestPrintSummary_StableOrder(t *testing.T) {
	var buf bytes.Buffer
	ds := newTestService(&buf)

	ds.PrintSummary("Rollback Summary", map[string]string{
		"status":    "recovered",
		"app":       "patients",
		"migration": "0005_merge_visits",
	})

	out := buf.String()
	assert.Contains(t, out, "Rollback Summary")
	// Sorted keys: app before migration before status
	appIdx := bytes.Index(buf.Bytes(), []byte("app"))
	statusIdx := bytes.Index(buf.Bytes(), []byte("status"))
	assert.Less(t, appIdx, statusIdx)
}

func TestShowBatchProgress(t *testing.T) {
	var buf bytes.Buffer
	ds := newTestService(&buf)

	ds.ShowBatchProgress(5, 20, "data rollback batch")
	assert.Contains(t, buf.String(), "[5/20]")
	assert.Contains(t, buf.String(), "25%")
}

func TestIconFallbacks(t *testing.T) {
	icons := NewASCIIIconSystem()
	assert.Equal(t, "[OK]", icons.RenderIcon("success"))
	assert.Equal(t, "[FAIL]", icons.RenderIcon("failure"))
	assert.Equal(t, "*", icons.RenderIcon("no-such-icon"))
	assert.False(t, icons.IsUnicodeSupported())
}

func TestPlainColorSystemPassesTextThrough(t *testing.T) {
	cs := NewPlainColorSystem()
	assert.Equal(t, "plain", cs.Colorize("plain", ColorBrightRed))
	assert.False(t, cs.IsColorSupported())
}

func TestGetThemeByName(t *testing.T) {
	assert.Equal(t, LightTheme(), GetThemeByName("light"))
	assert.Equal(t, PlainTheme(), GetThemeByName("plain"))
	assert.Equal(t, DarkTheme(), GetThemeByName("anything-else"))
}
