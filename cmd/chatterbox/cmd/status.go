package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/msto63/chatterbox-ui/internal/tui"
	"github.com/msto63/chatterbox-ui/internal/web"
	coregrpc "github.com/msto63/chatterbox-ui/pkg/core/grpc"
	"github.com/msto63/chatterbox-ui/pkg/core/health"
	"github.com/spf13/cobra"
)

var statusTimeout time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Prüft Weboberfläche, gRPC-Endpunkt und Inferenzserver",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 5*time.Second, "Timeout pro Prüfung")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	failed := false

	fmt.Fprintln(out, tui.RenderTitle("Chatterbox Status"))

	// Web UI
	uiURL := "http://" + cfg.Address() + "/api/v1/health"
	resp, err := fetchHealth(ctx, uiURL)
	if err != nil {
		printStatusLine(cmd, "Weboberfläche", health.StatusUnhealthy, err.Error())
		failed = true
	} else {
		printStatusLine(cmd, "Weboberfläche", resp.Status, cfg.Address())
		for _, c := range resp.Checks {
			printStatusLine(cmd, "  "+c.Name, c.Status, c.Message)
		}
	}

	// gRPC ops endpoint
	if cfg.GRPC.Port != 0 {
		st, err := coregrpc.CheckHealth(ctx, cfg.GRPCAddress(), "", statusTimeout)
		if err != nil {
			printStatusLine(cmd, "gRPC Health", health.StatusUnhealthy, err.Error())
			failed = true
		} else {
			status := health.StatusHealthy
			if st != "SERVING" {
				status = health.StatusUnhealthy
			}
			printStatusLine(cmd, "gRPC Health", status, st)
		}
	}

	// Inference server, checked directly so it works without a running UI
	client, err := newVoiceClient(cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		printStatusLine(cmd, "Inferenzserver", health.StatusUnhealthy, err.Error())
		failed = true
	} else {
		printStatusLine(cmd, "Inferenzserver", health.StatusHealthy, cfg.Chatterbox.ServerURL)
	}

	if failed {
		return fmt.Errorf("not all components are healthy")
	}
	return nil
}

func fetchHealth(ctx context.Context, url string) (*web.HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var hr web.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return nil, fmt.Errorf("invalid health response: %w", err)
	}
	return &hr, nil
}

func printStatusLine(cmd *cobra.Command, name string, status health.Status, detail string) {
	var badge string
	switch status {
	case health.StatusHealthy:
		badge = tui.StatusOKStyle.Render("● OK      ")
	case health.StatusDegraded:
		badge = tui.StatusWarnStyle.Render("● DEGRADED")
	default:
		badge = tui.ErrorMessageStyle.Render("● FEHLER  ")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %-16s %s\n", badge, name, detail)
}
