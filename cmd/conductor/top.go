package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/voxloop/conductor/core"
	"github.com/voxloop/conductor/internal/tui"
)

// remoteSource implements tui.Source by polling a running conductor's
// GET /diagnostics endpoint, since `conductor top` is launched as a
// separate process from `conductor serve`.
type remoteSource struct {
	addr   string
	client *http.Client
}

func newRemoteSource(addr string) *remoteSource {
	return &remoteSource{addr: addr, client: &http.Client{Timeout: 2 * time.Second}}
}

func (r *remoteSource) Diagnostics() core.Diagnostics {
	var diag core.Diagnostics

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://"+r.addr+"/diagnostics", nil)
	if err != nil {
		return diag
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return diag
	}
	defer resp.Body.Close()

	_ = json.NewDecoder(resp.Body).Decode(&diag)
	return diag
}

func newTopCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Live diagnostics dashboard for a running conductor instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			source := newRemoteSource(addr)
			program := tea.NewProgram(tui.NewModel(source))
			_, err := program.Run()
			if err != nil {
				return fmt.Errorf("conductor top: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "address of the running conductor's HTTP control surface")
	return cmd
}
