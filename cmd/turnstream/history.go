package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/joss/turnstream/internal/domain"
	ustrings "github.com/joss/turnstream/internal/strings"
)

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <conversation-id>",
		Short: "Print a conversation transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			conv, err := store.GetConversation(ctx, args[0])
			if err != nil {
				return err
			}
			msgs, err := store.ListMessages(ctx, conv.ID)
			if err != nil {
				return err
			}

			title := color.New(color.FgMagenta, color.Bold)
			user := color.New(color.FgCyan, color.Bold)
			assistant := color.New(color.FgGreen, color.Bold)
			muted := color.New(color.FgHiBlack)
			failed := color.New(color.FgRed)

			title.Printf("%s (%s)\n\n", conv.Title, conv.ID)
			for _, msg := range msgs {
				switch msg.Role {
				case domain.RoleUser:
					user.Println("❯ you")
				case domain.RoleAssistant:
					assistant.Print("● assistant")
					if msg.Interrupted {
						muted.Print("  (interrupted)")
					}
					fmt.Println()
				}
				if msg.Content != "" {
					fmt.Println(msg.Content)
				}
				for _, call := range msg.ToolCalls {
					mark := "✓"
					c := muted
					if call.Status == domain.ToolCallError {
						mark = "✗"
						c = failed
					}
					c.Printf("  %s %s %s\n", mark, call.Name, ustrings.Truncate(call.Input, 80))
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func conversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "List conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			folderID, _ := cmd.Flags().GetString("folder")
			limit, _ := cmd.Flags().GetInt("limit")

			convs, err := store.ListConversations(ctx, folderID, limit)
			if err != nil {
				return err
			}

			muted := color.New(color.FgHiBlack)
			for _, conv := range convs {
				fmt.Printf("%s  %s  ", conv.ID, conv.Title)
				muted.Printf("%s", conv.UpdatedAt.Format("2006-01-02 15:04"))
				if last, err := store.LastMessage(ctx, conv.ID); err == nil {
					muted.Printf("  %s", ustrings.Truncate(last.Content, 60))
				}
				fmt.Println()
			}
			return nil
		},
	}
	cmd.Flags().String("folder", "", "Only conversations in this folder (empty: root)")
	cmd.Flags().Int("limit", 50, "Maximum number of conversations")
	return cmd
}
