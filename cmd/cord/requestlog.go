package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/cord/pkg/storage"
	"github.com/spf13/cobra"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List the newest entries of the server's request log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		endpoint, err := restURL(cfg.Client.URL, "/api/log")
		if err != nil {
			return err
		}
		endpoint += "?limit=" + strconv.Itoa(limit)

		httpClient := &http.Client{Timeout: cfg.Client.RequestTimeout}
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to reach server: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			var body struct {
				Error string `json:"error"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&body)
			return fmt.Errorf("server returned %s: %s", resp.Status, body.Error)
		}

		var entries []*storage.RequestLogEntry
		if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
			return fmt.Errorf("failed to decode request log: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTIME\tDIR\tOP\tPATH\tPAYLOAD")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t/%s\t%s\n",
				e.ID, e.At.Local().Format(time.RFC3339), e.Direction, e.Op, e.Path, e.Payload)
		}
		return w.Flush()
	},
}

func init() {
	logCmd.Flags().IntP("limit", "n", 50, "Number of entries to show")
	rootCmd.AddCommand(logCmd)
}

// restURL maps the websocket endpoint to a REST path on the same server
func restURL(wsURL, path string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %v", wsURL, err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/ws") + path
	u.RawQuery = ""
	return u.String(), nil
}
