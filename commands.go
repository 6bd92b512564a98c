package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var flagHistoryLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print recently finished matches",
	Long: `Print the most recent finished matches from the database, newest first.

Examples:
  arena history
  arena history --limit 5 --db ./data/arena.db`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var codeCmd = &cobra.Command{
	Use:   "code",
	Short: "Print a fresh lobby code",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), GenerateCode(lobbyCodeLen))
	},
}

func init() {
	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 10, "Number of matches to show")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DBPath == "" {
		return errors.New("no database configured")
	}
	store, err := OpenStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	matches, err := store.RecentMatches(ctx, flagHistoryLimit)
	if err != nil {
		return err
	}
	printHistory(cmd.OutOrStdout(), matches)
	return nil
}

func printHistory(w io.Writer, matches []MatchRecord) {
	if len(matches) == 0 {
		fmt.Fprintln(w, "No matches recorded yet.")
		return
	}
	fmt.Fprintf(w, "%-4s %-6s %-19s %-8s %-7s %s\n", "#", "CODE", "ENDED", "PLAYERS", "WINNER", "KILLS")
	for _, m := range matches {
		winner := m.Winner
		if winner == "" {
			winner = "draw"
		}
		kills := make([]string, 0, len(m.Scores))
		for _, sc := range m.Scores {
			kills = append(kills, fmt.Sprintf("%s:%d", sc.PlayerID, sc.Kills))
		}
		fmt.Fprintf(w, "%-4d %-6s %-19s %-8d %-7s %s\n",
			m.ID, m.Code, m.EndedAt.Format("2006-01-02 15:04:05"), m.Players, winner, strings.Join(kills, " "))
	}
}
