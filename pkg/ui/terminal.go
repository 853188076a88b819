// Package ui renders command line output.
package ui

import (
	"fmt"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
)

// ASCIILogo is printed by commands that talk to a human
const ASCIILogo = `
  ╔═══════════════════════════════════════════╗
  ║   i g c o l l e c t o r                    ║
  ║   session pool content collector           ║
  ╚═══════════════════════════════════════════╝
`

var (
	neonCyan    = lipgloss.Color("#00FFFF")
	neonMagenta = lipgloss.Color("#FF00FF")
	neonGreen   = lipgloss.Color("#39FF14")
	neonYellow  = lipgloss.Color("#FFFF00")
	neonOrange  = lipgloss.Color("#FF6700")
	neonRed     = lipgloss.Color("#FF0000")
	dimWhite    = lipgloss.Color("#B0B0B0")
)

// Color functions for terminal output
var (
	Cyan    = colorize(lipgloss.NewStyle().Foreground(neonCyan))
	Yellow  = colorize(lipgloss.NewStyle().Foreground(neonYellow))
	Red     = colorize(lipgloss.NewStyle().Foreground(neonRed).Bold(true))
	Green   = colorize(lipgloss.NewStyle().Foreground(neonGreen).Bold(true))
	Orange  = colorize(lipgloss.NewStyle().Foreground(neonOrange))
	Magenta = colorize(lipgloss.NewStyle().Foreground(neonMagenta).Bold(true))
	Dim     = colorize(lipgloss.NewStyle().Foreground(dimWhite).Faint(true))
)

var (
	noColor atomic.Bool
	quiet   atomic.Bool
)

// SetNoColor disables styling
func SetNoColor(v bool) { noColor.Store(v) }

// SetQuietMode suppresses everything but errors
func SetQuietMode(v bool) { quiet.Store(v) }

// IsQuietMode reports whether quiet mode is on
func IsQuietMode() bool { return quiet.Load() }

func colorize(style lipgloss.Style) func(string) string {
	return func(text string) string {
		if noColor.Load() {
			return text
		}
		return style.Render(text)
	}
}

// PrintLogo prints the ASCII logo with color
func PrintLogo() {
	if IsQuietMode() {
		return
	}
	fmt.Print(Cyan(ASCIILogo))
}

// PrintError prints an error message in red
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Println(Red(msg + ": " + fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Println(Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	if IsQuietMode() {
		return
	}
	fmt.Println(Green(msg))
}

// PrintInfo prints a label and a value
func PrintInfo(label string, value string) {
	if IsQuietMode() {
		return
	}
	fmt.Printf("%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in orange
func PrintWarning(msg string, args ...interface{}) {
	if IsQuietMode() {
		return
	}
	if len(args) > 0 {
		fmt.Println(Orange(msg + ": " + fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Println(Orange(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	if IsQuietMode() {
		return
	}
	fmt.Println(Magenta(msg))
}
