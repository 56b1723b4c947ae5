package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/cam3ron2/org-pulse/internal/leaderboard"
)

var (
	goldColor   = color.New(color.FgYellow, color.Bold)
	silverColor = color.New(color.FgWhite, color.Bold)
	bronzeColor = color.New(color.FgRed)
)

// PrintLeaderboard renders the leaderboard as a terminal table. The top three
// usernames are colorized; rank numbers repeat on ties.
func PrintLeaderboard(w io.Writer, title string, entries []leaderboard.Entry) error {
	fmt.Fprintln(w, title)
	if len(entries) == 0 {
		fmt.Fprintln(w, "No activity for this period.")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header([]string{"Rank", "User", "Score", "Issues", "Commits", "LOC", "Additions", "Deletions"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	var data [][]string
	for _, entry := range entries {
		data = append(data, []string{
			strconv.Itoa(entry.Rank),
			rankedUsername(entry),
			fmt.Sprintf("%.3f", entry.Score),
			formatCount(entry.Totals.IssuesClosed),
			formatCount(entry.Totals.CommitCount),
			formatCount(entry.Totals.TotalLOC),
			formatCount(entry.Totals.TotalAdditions),
			formatCount(entry.Totals.TotalDeletions),
		})
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func rankedUsername(entry leaderboard.Entry) string {
	switch entry.Rank {
	case 1:
		return goldColor.Sprint(entry.Username)
	case 2:
		return silverColor.Sprint(entry.Username)
	case 3:
		return bronzeColor.Sprint(entry.Username)
	default:
		return entry.Username
	}
}
