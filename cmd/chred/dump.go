package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chred/pkg/types"
)

func newDumpCmd() *cobra.Command {
	defaultAddr := "localhost:8080"
	if v := os.Getenv("CHRED_ADDR"); v != "" {
		defaultAddr = v
	}
	var (
		addr    string
		timeout time.Duration
		status  bool
	)
	cmd := &cobra.Command{
		Use:     "dump",
		Short:   "Print the debug dump of a running daemon",
		Example: "  chred dump\n  chred dump --addr 10.0.0.2:8080 --status",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/debug/dump"
			if status {
				path = "/status"
			}
			client := &http.Client{Timeout: timeout}
			return fetch(client, baseURL(addr)+path, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "Daemon address (defaults CHRED_ADDR or localhost:8080)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	cmd.Flags().BoolVar(&status, "status", false, "Print the JSON status instead of the text dump")
	return cmd
}

// baseURL turns a listen address into an http URL.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func fetch(client *http.Client, url string, w io.Writer) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var e types.ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	_, err = w.Write(body)
	return err
}
