package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print the recent short-term turns of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			built, _, err := buildApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer built.Cleanup()

			messages, err := built.Conversation.History(cmd.Context(), args[0], limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(messages) == 0 {
				fmt.Fprintln(out, "No turns recorded.")
				return nil
			}
			for _, m := range messages {
				fmt.Fprintf(out, "%-10s %s\n", m.Role, m.Content)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Number of turns to show (default MEMORY_HISTORY_LIMIT)")
	return cmd
}

func newRecallCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "recall <conversation-id> <query...>",
		Short: "Score long-term memories of a conversation against a query",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			built, _, err := buildApp(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer built.Cleanup()

			hits, err := built.Conversation.Recall(cmd.Context(), args[0], strings.Join(args[1:], " "), topK)
			if err != nil {
				return fmt.Errorf("recall: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(hits) == 0 {
				fmt.Fprintln(out, "No memories found.")
				return nil
			}
			fmt.Fprintf(out, "%-6s %-28s %-12s %s\n", "SCORE", "ID", "TYPE", "TEXT")
			fmt.Fprintln(out, strings.Repeat("-", 80))
			for _, h := range hits {
				kind, _ := h.Meta["type"].(string)
				if kind == "" {
					kind = "-"
				}
				fmt.Fprintf(out, "%-6.2f %-28s %-12s %s\n", h.Score, h.ID, kind, h.Text)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of memories to return (default MEMORY_TOP_K)")
	return cmd
}
