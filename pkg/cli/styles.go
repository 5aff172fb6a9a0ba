package cli

import (
	"github.com/beam-cloud/mailsync/pkg/types"
	"github.com/charmbracelet/lipgloss"
)

var (
	ColorPrimary = lipgloss.Color("#0EA5E9")
	ColorSuccess = lipgloss.Color("#22C55E")
	ColorWarning = lipgloss.Color("#F59E0B")
	ColorError   = lipgloss.Color("#EF4444")
	ColorInfo    = lipgloss.Color("#3B82F6")
	ColorSubtle  = lipgloss.Color("#6B7280")
)

const (
	SymbolSuccess = "✓"
	SymbolError   = "✗"
	SymbolWarning = "!"
	SymbolInfo    = "→"
	SymbolBullet  = "•"
)

var (
	BrandStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorInfo)

	DimStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	KeyStyle = lipgloss.NewStyle().
			Foreground(ColorSubtle).
			Width(12)

	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorSubtle)

	TableCellStyle = lipgloss.NewStyle()

	CodeStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary)
)

func statusStyle(s types.SyncStatus) lipgloss.Style {
	switch s {
	case types.SyncStatusActive:
		return SuccessStyle
	case types.SyncStatusError:
		return ErrorStyle
	}
	return DimStyle
}
