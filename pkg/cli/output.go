package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// out is where every command writes; tests swap it
var out io.Writer = os.Stdout

// outputJSON controls whether commands should output JSON instead of styled text
var outputJSON bool

// SetJSONOutput sets the JSON output mode
func SetJSONOutput(enabled bool) {
	outputJSON = enabled
}

// PrintJSON outputs data as JSON if JSON mode is enabled, returns true if it did
func PrintJSON(data any) bool {
	if !outputJSON {
		return false
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.Encode(data)
	return true
}

func PrintSuccess(msg string) {
	fmt.Fprintf(out, "  %s %s\n", SuccessStyle.Render(SymbolSuccess), msg)
}

func PrintError(err error) {
	fmt.Fprintf(out, "  %s %s\n", ErrorStyle.Render(SymbolError), ErrorStyle.Render(err.Error()))
}

func PrintWarning(msg string) {
	fmt.Fprintf(out, "  %s %s\n", WarningStyle.Render(SymbolWarning), WarningStyle.Render(msg))
}

func PrintInfo(msg string) {
	fmt.Fprintf(out, "  %s %s\n", InfoStyle.Render(SymbolInfo), msg)
}

// PrintSuggestions prints a dimmed list under a title
func PrintSuggestions(title string, suggestions []string) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  %s\n", DimStyle.Render(title))
	for _, s := range suggestions {
		fmt.Fprintf(out, "    %s %s\n", DimStyle.Render(SymbolBullet), s)
	}
}

// PrintKeyValue prints a key-value pair with consistent alignment
func PrintKeyValue(key, value string) {
	fmt.Fprintf(out, "  %s %s\n", KeyStyle.Render(key), value)
}

func PrintKeyValueStyled(key, value string, valueStyle lipgloss.Style) {
	fmt.Fprintf(out, "  %s %s\n", KeyStyle.Render(key), valueStyle.Render(value))
}

func PrintNewline() {
	fmt.Fprintln(out)
}

// Table is a left-aligned column layout sized to its widest cell
type Table struct {
	Headers []string
	Rows    [][]string
	Widths  []int
}

func NewTable(headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &Table{Headers: headers, Widths: widths}
}

// AddRow pads or drops cells to match the header count
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.Headers))
	for i := range row {
		if i < len(cells) {
			row[i] = cells[i]
			t.Widths[i] = max(t.Widths[i], len(cells[i]))
		}
	}
	t.Rows = append(t.Rows, row)
}

func (t *Table) Print() {
	if len(t.Rows) == 0 {
		return
	}

	fmt.Fprint(out, "  ")
	for i, h := range t.Headers {
		fmt.Fprint(out, TableHeaderStyle.Width(t.Widths[i]+2).Render(h))
	}
	fmt.Fprintln(out)

	for _, row := range t.Rows {
		fmt.Fprint(out, "  ")
		for i, cell := range row {
			fmt.Fprint(out, TableCellStyle.Width(t.Widths[i]+2).Render(cell))
		}
		fmt.Fprintln(out)
	}
}

// Truncate truncates a string to maxLen, adding "..." if needed
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return strings.TrimSpace(s[:maxLen-3]) + "..."
}

func formatUint(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
