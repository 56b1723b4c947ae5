package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cam3ron2/org-pulse/internal/activity"
	"github.com/cam3ron2/org-pulse/internal/leaderboard"
)

var rankMedals = []string{"🥇", "🥈", "🥉"}

// FormatDateRange renders an inclusive date span for message headers, e.g.
// "Aug 20, 2026" for a single day or "Aug 20-26, 2026" for a week.
func FormatDateRange(start, end string) string {
	startDay, err := time.Parse(activity.DateLayout, start)
	if err != nil {
		return start
	}
	endDay, err := time.Parse(activity.DateLayout, end)
	if err != nil || start == end {
		return startDay.Format("Jan 2, 2006")
	}
	if startDay.Year() == endDay.Year() && startDay.Month() == endDay.Month() {
		return fmt.Sprintf("%s-%d, %d", startDay.Format("Jan 2"), endDay.Day(), endDay.Year())
	}
	return fmt.Sprintf("%s - %s", startDay.Format("Jan 2, 2006"), endDay.Format("Jan 2, 2006"))
}

// FormatLeaderboardMessage renders the full chat message: a header naming the
// period, a ranked section per metric, and an optional reports link. periodType
// is display text like "Daily" or "Weekly".
func FormatLeaderboardMessage(periodType, dateRange string, entries []leaderboard.Entry, reportsURL string) string {
	var parts []string
	header := fmt.Sprintf("📊 **%s Leaderboard (%s)**\n", periodType, dateRange)

	if len(entries) == 0 {
		parts = append(parts, header, "No activity for this period.")
	} else {
		byCommits := sectionValues(entries, func(t activity.UserTotals) int { return t.CommitCount })
		byLOC := sectionValues(entries, func(t activity.UserTotals) int { return t.TotalLOC })
		parts = append(parts,
			header,
			formatSection("🏆 Top Contributors by Commits", byCommits, "commits"),
			"",
			formatSection("📈 Top Contributors by Lines Changed", byLOC, "lines"),
		)
	}

	if reportsURL != "" {
		parts = append(parts, "", "🔗 View all reports: "+reportsURL)
	}
	return strings.Join(parts, "\n")
}

type sectionRow struct {
	username string
	value    int
}

// sectionValues re-ranks the entries by one metric, descending, keeping the
// overall leaderboard order for equal values.
func sectionValues(entries []leaderboard.Entry, value func(activity.UserTotals) int) []sectionRow {
	rows := make([]sectionRow, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, sectionRow{username: entry.Username, value: value(entry.Totals)})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].value > rows[j].value
	})
	return rows
}

// formatSection renders one metric's ranking. The top three positions get
// medals; later positions get rank numbers. Equal values share a rank.
func formatSection(title string, rows []sectionRow, suffix string) string {
	if len(rows) == 0 {
		return fmt.Sprintf("**%s**\nNo activity", title)
	}

	lines := []string{fmt.Sprintf("**%s**", title)}
	rank := 0
	for i, row := range rows {
		if i > 0 && row.value != rows[i-1].value {
			rank = i
		}
		if rank < len(rankMedals) {
			lines = append(lines, fmt.Sprintf("%s %s: %s %s", rankMedals[rank], row.username, formatCount(row.value), suffix))
			continue
		}
		lines = append(lines, fmt.Sprintf("%d. %s: %s %s", rank+1, row.username, formatCount(row.value), suffix))
	}
	return strings.Join(lines, "\n")
}

// formatCount renders an integer with thousands separators.
func formatCount(value int) string {
	raw := fmt.Sprintf("%d", value)
	negative := strings.HasPrefix(raw, "-")
	digits := strings.TrimPrefix(raw, "-")

	var builder strings.Builder
	if negative {
		builder.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead > 0 {
		builder.WriteString(digits[:lead])
		if len(digits) > lead {
			builder.WriteByte(',')
		}
	}
	for i := lead; i < len(digits); i += 3 {
		builder.WriteString(digits[i : i+3])
		if i+3 < len(digits) {
			builder.WriteByte(',')
		}
	}
	return builder.String()
}
