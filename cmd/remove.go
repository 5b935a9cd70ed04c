package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	removeAdmin   string
	removeEvict   bool
	removeTimeout time.Duration
)

var removeCmd = &cobra.Command{
	Use:   "remove ENDPOINT",
	Short: "Remove a dead endpoint from the cluster",
	Long: `Ask a running node to announce that a down endpoint has left the cluster
for good. The node waits one ring delay before speaking for the endpoint, so
the command returns as soon as the removal is accepted.

With --evict the node only forgets the endpoint locally, the way a
replacement node forgets the address it took over.

Example:
  hermes remove 10.0.0.3:7000 --admin=127.0.0.1:8001`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), removeTimeout)
		defer cancel()
		if err := requestRemoval(ctx, removeAdmin, args[0], removeEvict); err != nil {
			return err
		}
		verb := "removal of %s accepted\n"
		if removeEvict {
			verb = "%s evicted\n"
		}
		fmt.Fprintf(cmd.OutOrStdout(), verb, args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
	removeCmd.Flags().StringVar(&removeAdmin, "admin", "127.0.0.1:8000", "Admin address of a live node")
	removeCmd.Flags().BoolVar(&removeEvict, "evict", false, "Only forget the endpoint on that node")
	removeCmd.Flags().DurationVar(&removeTimeout, "timeout", 5*time.Second, "Request timeout")
}

func requestRemoval(ctx context.Context, admin, endpoint string, evict bool) error {
	if !strings.Contains(admin, "://") {
		admin = "http://" + admin
	}
	q := url.Values{"endpoint": {endpoint}}
	if evict {
		q.Set("evict", "true")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, admin+"/remove?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("remove via %s: %w", admin, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("remove %s: %s: %s", endpoint, resp.Status, strings.TrimSpace(string(msg)))
}
