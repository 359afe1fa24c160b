package ui

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	colorHealthy   = lipgloss.Color("76")  // green
	colorDegraded  = lipgloss.Color("214") // orange
	colorFailed    = lipgloss.Color("196") // bright red
	colorOffline   = lipgloss.Color("244") // gray
	colorRecovery  = lipgloss.Color("39")  // blue
	colorMuted     = lipgloss.Color("242")
	colorHighlight = lipgloss.Color("15")
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			MarginBottom(1)

	healthyStyle = lipgloss.NewStyle().
			Foreground(colorHealthy)

	degradedStyle = lipgloss.NewStyle().
			Foreground(colorDegraded)

	failedStyle = lipgloss.NewStyle().
			Foreground(colorFailed).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(colorOffline)

	recoveryStyle = lipgloss.NewStyle().
			Foreground(colorRecovery)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	valueStyle = lipgloss.NewStyle().
			Foreground(colorHighlight)
)

// Header renders a section heading.
func Header(s string) string {
	if !ShouldUseColor() {
		return s
	}
	return headerStyle.Render(s)
}

// Health renders a health status string in its conventional color.
func Health(status string) string {
	if !ShouldUseColor() {
		return status
	}
	switch status {
	case "healthy":
		return healthyStyle.Render(status)
	case "degraded":
		return degradedStyle.Render(status)
	case "failed":
		return failedStyle.Render(status)
	case "offline":
		return offlineStyle.Render(status)
	default:
		return status
	}
}

// Recovery renders a recovery step name.
func Recovery(step string) string {
	if !ShouldUseColor() {
		return step
	}
	return recoveryStyle.Render(step)
}

// Label renders a muted field label.
func Label(s string) string {
	if !ShouldUseColor() {
		return s
	}
	return labelStyle.Render(s)
}

// Value renders a field value.
func Value(s string) string {
	if !ShouldUseColor() {
		return s
	}
	return valueStyle.Render(s)
}
