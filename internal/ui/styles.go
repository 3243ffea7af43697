// Package ui renders terminal output for the etl command.
package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

func init() {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		DisableColor()
	}
}

// DisableColor forces plain ASCII output.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }

// WatermarkRow is one line of the status table. Zero At means never synced.
type WatermarkRow struct {
	Table string
	At    time.Time
}

// RenderWatermarks formats per-table watermarks relative to now.
func RenderWatermarks(rows []WatermarkRow, now time.Time) string {
	width := len("TABLE")
	for _, r := range rows {
		width = max(width, len(r.Table))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", headerStyle.Render(pad("TABLE", width)), headerStyle.Render("WATERMARK"))
	for _, r := range rows {
		name := pad(r.Table, width)
		if r.At.IsZero() {
			fmt.Fprintf(&b, "%s  %s\n", name, RenderWarn("never (full scan on next poll)"))
			continue
		}
		age := now.Sub(r.At).Round(time.Second)
		fmt.Fprintf(&b, "%s  %s %s\n", name, RenderPass(r.At.UTC().Format(time.DateTime)), RenderMuted(fmt.Sprintf("(%s ago)", age)))
	}
	return b.String()
}

func pad(s string, width int) string {
	return s + strings.Repeat(" ", width-len(s))
}
