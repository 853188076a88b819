package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"igcollector/pkg/models"
	"igcollector/pkg/scraper"
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(neonCyan).Bold(true)
	panelStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(neonMagenta).
			Padding(0, 1)
)

// table lays out rows in aligned columns. Cells are padded on their plain
// width so styling does not shift the columns.
func table(header []string, rows [][]string, style func(col int, cell string) string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	pad := func(s string, i int) string {
		return s + strings.Repeat(" ", widths[i]-lipgloss.Width(s))
	}

	var b strings.Builder
	cells := make([]string, len(header))
	for i, h := range header {
		cells[i] = pad(h, i)
		if !noColor.Load() {
			cells[i] = headerStyle.Render(cells[i])
		}
	}
	b.WriteString(strings.Join(cells, "  "))
	for _, row := range rows {
		b.WriteString("\n")
		for i, cell := range row {
			cells[i] = pad(cell, i)
			if style != nil {
				cells[i] = style(i, cells[i])
			}
		}
		b.WriteString(strings.Join(cells, "  "))
	}

	if noColor.Load() {
		return b.String()
	}
	return panelStyle.Render(b.String())
}

// FlagsString renders health flags, "ok" when none is set
func FlagsString(f models.HealthFlags) string {
	var set []string
	if f.Blocked {
		set = append(set, "blocked")
	}
	if f.Challenged {
		set = append(set, "challenged")
	}
	if f.TemporarilyBlocked {
		set = append(set, "temp-blocked")
	}
	if len(set) == 0 {
		return "ok"
	}
	return strings.Join(set, ",")
}

// SessionTable renders sessions with their health and usage
func SessionTable(sessions []models.Session) string {
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{
			strconv.FormatInt(s.ID, 10),
			s.Username,
			FlagsString(s.Flags),
			strconv.FormatInt(s.UsageCount, 10),
			s.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return table([]string{"ID", "USERNAME", "HEALTH", "USES", "UPDATED"}, rows, func(col int, cell string) string {
		if col != 2 {
			return cell
		}
		switch {
		case strings.HasPrefix(cell, "ok"):
			return Green(cell)
		case strings.Contains(cell, "blocked,") || strings.HasPrefix(cell, "blocked"):
			return Red(cell)
		default:
			return Orange(cell)
		}
	})
}

// RecordTable renders stored content records
func RecordTable(records []models.ContentRecord) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		state := "complete"
		if r.ResumeCursor != "" {
			state = "resumable"
		}
		fetched := "-"
		if !r.FetchedAt.IsZero() {
			fetched = r.FetchedAt.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{
			strconv.FormatInt(r.ID, 10),
			r.Target.Key(),
			strconv.Itoa(r.ItemCount),
			state,
			fetched,
		})
	}
	return table([]string{"ID", "TARGET", "ITEMS", "STATE", "FETCHED"}, rows, nil)
}

// ItemTable renders stored items
func ItemTable(items []models.Item) string {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		caption := strings.ReplaceAll(it.Caption, "\n", " ")
		if len([]rune(caption)) > 40 {
			caption = string([]rune(caption)[:39]) + "…"
		}
		rows = append(rows, []string{
			it.Code,
			string(it.MediaType),
			strconv.Itoa(it.LikeCount),
			it.TakenAt.Local().Format("2006-01-02"),
			caption,
		})
	}
	return table([]string{"CODE", "TYPE", "LIKES", "TAKEN", "CAPTION"}, rows, nil)
}

// ResultTable renders fetch results
func ResultTable(results []scraper.Result) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		detail := string(r.Outcome.StopReason)
		if r.Code != "" {
			detail = r.Code
		}
		rows = append(rows, []string{
			r.Target.Key(),
			string(r.Status),
			fmt.Sprintf("%d", r.Outcome.NewItems),
			fmt.Sprintf("%d", r.Outcome.ItemCount),
			fmt.Sprintf("%d", r.Attempts),
			detail,
		})
	}
	return table([]string{"TARGET", "STATUS", "NEW", "TOTAL", "ATTEMPTS", "DETAIL"}, rows, func(col int, cell string) string {
		if col != 1 {
			return cell
		}
		switch strings.TrimSpace(cell) {
		case string(scraper.StatusSuccess):
			return Green(cell)
		case string(scraper.StatusPartialSuccess):
			return Orange(cell)
		default:
			return Red(cell)
		}
	})
}
