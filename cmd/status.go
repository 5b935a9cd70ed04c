package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/adamgarcia4/goLearning/hermes/node"
)

var (
	statusAdmin   string
	statusTimeout time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the membership view of a running node",
	Long: `Query the admin server of a running node and print every endpoint it knows
about with its liveness, generation and heartbeat version.

Example:
  hermes status --admin=127.0.0.1:8002`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
		defer cancel()
		view, err := fetchMembers(ctx, statusAdmin)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), renderMembers(view))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusAdmin, "admin", "127.0.0.1:8000", "Admin address of the node to query")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 5*time.Second, "Request timeout")
}

func fetchMembers(ctx context.Context, admin string) (*node.MembersView, error) {
	if !strings.Contains(admin, "://") {
		admin = "http://" + admin
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, admin+"/members", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", admin, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query %s: %s", admin, resp.Status)
	}
	var view node.MembersView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}
	return &view, nil
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	upStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	memberDownStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	cellStyle       = lipgloss.NewStyle().PaddingRight(2)
)

func renderMembers(view *node.MembersView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (cluster %s)\n\n", headerStyle.Render("Node"), view.Local, view.ClusterID)

	members := append([]node.MemberView(nil), view.Members...)
	sort.Slice(members, func(i, j int) bool { return members[i].Endpoint < members[j].Endpoint })

	rows := [][]string{{"ENDPOINT", "STATE", "GEN", "HEARTBEAT", "STATUS", "DOWN FOR"}}
	for _, m := range members {
		state := "UP"
		if !m.Alive {
			state = "DOWN"
		}
		rows = append(rows, []string{
			m.Endpoint,
			state,
			fmt.Sprint(m.Generation),
			fmt.Sprint(m.HeartbeatVersion),
			m.Status,
			m.Downtime,
		})
	}

	widths := make([]int, len(rows[0]))
	for _, r := range rows {
		for i, c := range r {
			widths[i] = max(widths[i], lipgloss.Width(c))
		}
	}
	for i, r := range rows {
		cells := make([]string, len(r))
		for j, c := range r {
			style := cellStyle.Width(widths[j] + 2)
			switch {
			case i == 0:
				style = style.Inherit(headerStyle)
			case j == 1 && c == "UP":
				style = style.Inherit(upStyle)
			case j == 1:
				style = style.Inherit(memberDownStyle)
			}
			cells[j] = style.Render(c)
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n%d live, %d unreachable\n", len(view.Live), len(view.Unreachable))
	return b.String()
}
