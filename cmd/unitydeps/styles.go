// SPDX-License-Identifier: MPL-2.0

package cmd

import "github.com/charmbracelet/lipgloss"

// Summary palette for light and dark terminals.
var (
	ColorAccent  = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"}
	ColorMuted   = lipgloss.AdaptiveColor{Light: "#4B5563", Dark: "#9CA3AF"}
	ColorOK      = lipgloss.AdaptiveColor{Light: "#047857", Dark: "#34D399"}
	ColorFailed  = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	ColorPending = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
)

var (
	// TitleStyle is for the command name in help and the summary header.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)

	// SubtitleStyle is for section headers and secondary text.
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	// SuccessStyle marks published versions.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorOK)

	// ErrorStyle marks failures.
	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorFailed)

	// WarningStyle marks skipped or pending versions.
	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorPending)
)
