package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var styles = struct {
	title, ok, warn, err, dim, id lipgloss.Style
}{
	title: lipgloss.NewStyle().Bold(true),
	ok:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	err:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	dim:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	id:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
}

// preview truncates s to n runes, appending "..." when cut.
func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// summary is the one-line result shown after a transcription.
func summary(text string) string {
	return fmt.Sprintf("%s %s", preview(text, 60), styles.dim.Render(fmt.Sprintf("(%d words)", wordCount(text))))
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
