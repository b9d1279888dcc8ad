package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"catalyst-migrator/pkg/migration"
	"catalyst-migrator/pkg/types"
	"catalyst-migrator/pkg/utils"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"
)

var (
	primaryColor = lipgloss.Color("#FF79C6") // Pink
	accentColor  = lipgloss.Color("#50FA7B") // Green
	warningColor = lipgloss.Color("#FFB86C") // Orange
	dangerColor  = lipgloss.Color("#FF5555") // Red
	mutedColor   = lipgloss.Color("#6272A4")
	borderColor  = lipgloss.Color("#44475A")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#8BE9FD")).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)
)

func outcomeColor(o types.Outcome) lipgloss.Color {
	switch o {
	case types.OutcomeDeployed:
		return accentColor
	case types.OutcomeSkipped:
		return warningColor
	case types.OutcomeFailed:
		return dangerColor
	}
	return mutedColor
}

func newTable() *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return rowStyle
		})
}

// renderSummary prints the outcome table, the failures and, for a dry run,
// the pointer set in the requested format.
func renderSummary(w io.Writer, s *migration.Summary, output string) error {
	title := "MIGRATION SUMMARY"
	if s.DryRun {
		title = "DRY RUN"
	}
	fmt.Fprintln(w, titleStyle.Render(title))
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("run %s  source %s  enumerated %d  uploaded %s  took %s",
		s.RunID, s.Source, s.Enumerated, utils.FormatSize(s.UploadedBytes()), s.Duration.Round(time.Millisecond))))

	counts := newTable().Headers("OUTCOME", "ENTITIES")
	for _, o := range []types.Outcome{types.OutcomeDeployed, types.OutcomeSkipped, types.OutcomeFailed, types.OutcomeDryRun} {
		n := s.Count(o)
		if n == 0 {
			continue
		}
		counts.Row(lipgloss.NewStyle().Foreground(outcomeColor(o)).Render(string(o)), fmt.Sprint(n))
	}
	fmt.Fprintln(w, counts.Render())

	if failures := s.Failures(); len(failures) > 0 {
		t := newTable().Headers("SOURCE ID", "POINTER", "STAGE", "ERROR")
		for _, r := range failures {
			pointer := ""
			if len(r.Pointers) > 0 {
				pointer = r.Pointers[0]
			}
			t.Row(string(r.SourceID), pointer, string(r.Stage), truncate(r.Error, 80))
		}
		fmt.Fprintln(w, t.Render())
	}

	if !s.DryRun {
		return nil
	}
	return writePointers(w, s.Pointers, output)
}

func writePointers(w io.Writer, pointers []string, output string) error {
	if pointers == nil {
		pointers = []string{}
	}
	switch strings.ToLower(output) {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(map[string][]string{"pointers": pointers}); err != nil {
			return fmt.Errorf("failed to encode pointers: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string][]string{"pointers": pointers}); err != nil {
			return fmt.Errorf("failed to encode pointers: %w", err)
		}
		return nil
	}
}

func renderSceneSizes(sizes []migration.SceneSize) string {
	t := newTable().Headers("SCENE", "FILES", "SIZE", "MISSING", "POINTERS")
	for _, s := range sizes {
		t.Row(string(s.EntityID), fmt.Sprint(s.Files), utils.FormatSize(s.Bytes),
			fmt.Sprint(len(s.Missing)), truncate(strings.Join(s.Pointers, ","), 40))
	}
	return t.Render()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
