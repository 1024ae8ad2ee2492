// Package display provides unified terminal output for the isomoira CLI.
// It visually separates controller status from model output.
package display

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

// Display handles all CLI output with visual hierarchy
type Display struct {
	theme     *Theme
	termWidth int
	noColor   bool
}

// New creates a new Display instance
func New() *Display {
	return NewWithOptions(false)
}

// NewWithOptions creates a Display with configuration
func NewWithOptions(noColor bool) *Display {
	d := &Display{
		termWidth: getTerminalWidth(),
		noColor:   noColor,
	}
	if noColor {
		d.theme = NoColorTheme()
	} else {
		d.theme = DefaultTheme()
	}
	return d
}

// getTerminalWidth returns the terminal width, defaulting to 80
func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < 40 {
		return 80
	}
	if width > 120 {
		return 120 // Cap at 120 for readability
	}
	return width
}

// Box prints a boxed message with a custom title
func (d *Display) Box(title string, lines ...string) {
	if len(lines) == 0 {
		return
	}

	width := d.termWidth - 2
	titleLen := runewidth.StringWidth(title) + 4 // "─ TITLE "
	remainingWidth := width - titleLen
	if remainingWidth < 0 {
		remainingWidth = 0
	}

	topLine := BoxTopLeft + BoxHorizontal + " " + title + " " + strings.Repeat(BoxHorizontal, remainingWidth) + BoxTopRight
	fmt.Println(d.theme.Border(topLine))

	for _, line := range lines {
		paddedLine := padRight(line, width-2)
		fmt.Println(d.theme.Border(BoxVertical) + " " + d.theme.Text(paddedLine) + " " + d.theme.Border(BoxVertical))
	}

	bottomLine := BoxBottomLeft + strings.Repeat(BoxHorizontal, width) + BoxBottomRight
	fmt.Println(d.theme.Border(bottomLine))
}

// Status prints a single-line timestamped status message (no box)
func (d *Display) Status(symbol, message string) {
	timestamp := time.Now().Format("[15:04:05]")
	fmt.Printf("%s %s %s\n",
		d.theme.Border(timestamp),
		symbol,
		d.theme.Text(message))
}

// Success prints a success message with green checkmark
func (d *Display) Success(message string) {
	d.Status(d.theme.Success(SymbolSuccess), message)
}

// Error prints an error message with red X
func (d *Display) Error(message string) {
	d.Status(d.theme.Error(SymbolError), message)
}

// Warning prints a warning message with yellow triangle
func (d *Display) Warning(message string) {
	d.Status(d.theme.Warning(SymbolWarning), message)
}

// Info prints an info message with cyan indicator
func (d *Display) Info(label, message string) {
	d.Status(d.theme.Info(label+":"), message)
}

// Blocked prints a sandbox-block message with the block reason
func (d *Display) Blocked(reason string) {
	d.Status(SymbolBlocked, reason)
}

// wrapText wraps text to specified display width, returns up to maxLines
func wrapText(text string, maxWidth int) []string {
	if maxWidth <= 0 {
		maxWidth = 80
	}

	text = strings.TrimSpace(text)
	if runewidth.StringWidth(text) <= maxWidth {
		return []string{text}
	}

	var lines []string
	words := strings.Fields(text)
	var currentLine strings.Builder
	currentWidth := 0

	for _, word := range words {
		wordWidth := runewidth.StringWidth(word)
		if currentWidth+wordWidth+1 > maxWidth {
			if currentLine.Len() > 0 {
				lines = append(lines, currentLine.String())
				currentLine.Reset()
				currentWidth = 0
			}
		}
		if currentLine.Len() > 0 {
			currentLine.WriteString(" ")
			currentWidth++
		}
		currentLine.WriteString(word)
		currentWidth += wordWidth
	}
	if currentLine.Len() > 0 {
		lines = append(lines, currentLine.String())
	}

	if len(lines) > 8 {
		lines = lines[:8]
		lines[7] = runewidth.Truncate(lines[7], maxWidth-3, "") + "..."
	}

	return lines
}

// Model prints model output for the given role with a left gutter.
func (d *Display) Model(role, text string) {
	timestamp := time.Now().Format("[15:04:05]")
	gutter := d.theme.ModelTimestamp(GutterModel)
	roleStr := d.theme.ModelRole(fmt.Sprintf("[%s]", role))

	lines := wrapText(text, d.termWidth-20)
	for i, line := range lines {
		if i == 0 {
			fmt.Printf("  %s %s %s %s\n", gutter, d.theme.Dim(timestamp), roleStr, d.theme.ModelText(line))
		} else {
			fmt.Printf("  %s %s%s\n", d.theme.ModelTimestamp(GutterDot), strings.Repeat(" ", 10), d.theme.ModelText(line))
		}
	}
}

// SectionBreak prints a horizontal separator for iteration boundaries
func (d *Display) SectionBreak() {
	fmt.Println(d.theme.Separator(strings.Repeat(SectionBreak, d.termWidth)))
}

// Iteration prints the iteration banner with phase and stuck score.
func (d *Display) Iteration(n int, phase string, stuckScore int) {
	d.SectionBreak()
	fmt.Printf("Iteration %d: %s (stuck score %d)\n", n, d.theme.Info(phase), stuckScore)
	d.SectionBreak()
}

// RunHeader prints the startup banner.
func (d *Display) RunHeader(workspace, planner, implementer, consultant string) {
	fmt.Println(d.theme.Bold("=== isomoira ==="))
	fmt.Printf("workspace:   %s\n", workspace)
	fmt.Printf("planner:     %s\n", planner)
	fmt.Printf("implementer: %s\n", implementer)
	fmt.Printf("consultant:  %s\n", consultant)
	fmt.Println()
}

// RunComplete prints the terminal-state message.
func (d *Display) RunComplete(outcome string, iterations int) {
	fmt.Printf("\n%s %s after %d iterations.\n", d.theme.Success(SymbolSuccess), outcome, iterations)
}

// RunHalted prints a non-success terminal-state message.
func (d *Display) RunHalted(outcome string, iterations int) {
	fmt.Printf("\n%s %s after %d iterations.\n", d.theme.Error(SymbolError), outcome, iterations)
}

// Duration prints execution duration
func (d *Display) Duration(dur time.Duration) {
	fmt.Printf("   duration: %s\n", dur.Round(time.Second))
}

// Theme returns the current theme for external use
func (d *Display) Theme() *Theme {
	return d.theme
}

// padRight pads a string to the specified display width using rune width.
func padRight(s string, width int) string {
	w := runewidth.StringWidth(s)
	if w >= width {
		return runewidth.Truncate(s, width, "")
	}
	return s + strings.Repeat(" ", width-w)
}

// Truncate truncates text to max length with ellipsis
func Truncate(s string, max int) string {
	s = CleanText(s)
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// CleanText removes newlines and collapses spaces
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return strings.TrimSpace(s)
}
