package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jason-s-yu/lobbyd/internal/config"
	"github.com/jason-s-yu/lobbyd/internal/handlers"
	"github.com/jason-s-yu/lobbyd/internal/lobby"
	"github.com/spf13/cobra"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show server statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st handlers.StatsResponse
			if err := getJSON(cmd, "/api/stats", "", &st); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "lobbies: %d  players: %d  connections: %d\n", st.TotalLobbies, st.TotalPlayers, st.Connections)
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tSTATE\tPLAYERS\tCREATED")
			for _, l := range st.ActiveLobbies {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", l.Code, l.GameState, l.PlayerCount, l.Created.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newLobbiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lobbies",
		Short: "List lobbies waiting for players",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var list []lobby.Summary
			if err := getJSON(cmd, "/api/lobbies", cliConfig.GetString(config.CLIToken), &list); err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tHOST\tPLAYERS")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%d/%d\n", s.Code, s.Host, s.PlayerCount, s.MaxPlayers)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String(config.CLIToken, "", "monitor token (env LOBBY_TOKEN)")
	cobra.CheckErr(cliConfig.BindPFlag(config.CLIToken, cmd.Flags().Lookup(config.CLIToken)))
	return cmd
}

func getJSON(cmd *cobra.Command, path, token string, v any) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, strings.TrimRight(serverURL(), "/")+path, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
