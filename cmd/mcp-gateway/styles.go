package main

import "github.com/charmbracelet/lipgloss"

var (
	headingStyle  = lipgloss.NewStyle().Bold(true)
	groupStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5F87FF"))
	nameStyle     = lipgloss.NewStyle().Bold(true)
	enabledStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAF5F"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#D7AF00"))
	stepStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD7FF"))
	dimStyle      = lipgloss.NewStyle().Faint(true)
	disabledStyle = dimStyle
)
