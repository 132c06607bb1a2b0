package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/joss/turnstream/internal/domain"
	"github.com/joss/turnstream/internal/engine"
	"github.com/joss/turnstream/internal/logging"
	"github.com/joss/turnstream/internal/runtime"
	"github.com/joss/turnstream/internal/settings"
	"github.com/joss/turnstream/internal/tui"
)

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [conversation-id]",
		Short: "Open an interactive streaming chat",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return fmt.Errorf("chat requires a terminal")
			}

			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			var conv *domain.Conversation
			if len(args) > 0 {
				conv, err = store.GetConversation(ctx, args[0])
				if err != nil {
					return err
				}
			} else {
				conv = &domain.Conversation{
					ID:        ulid.Make().String(),
					Title:     "New conversation",
					CreatedAt: time.Now(),
					UpdatedAt: time.Now(),
				}
				if err := store.CreateConversation(ctx, conv); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "conversation %s\n", conv.ID)
			}

			eff, err := loadSettings(dataDir(cmd), conv.FolderID, conv.ID)
			if err != nil {
				return err
			}

			agent, _ := cmd.Flags().GetString("agent")
			agentArgs, _ := cmd.Flags().GetStringArray("agent-arg")
			proc, err := runtime.StartProc(context.Background(), agent, agentArgs...)
			if err != nil {
				return fmt.Errorf("start agent runtime: %w", err)
			}
			defer proc.Close()

			opts := []engine.Option{
				engine.WithLogger(logging.New("engine")),
				engine.WithTurnDefaults(engine.TurnDefaults{
					Model:          eff.Model,
					PermissionMode: eff.PermissionMode,
					MaxBudgetUSD:   eff.MaxBudgetUSD,
					MaxTurns:       eff.MaxTurns,
				}),
			}
			if len(eff.AutoAllow) > 0 {
				opts = append(opts, engine.WithApprovalPolicy(settings.NewPatternPolicy(eff.AutoAllow)))
			}
			if idle, _ := cmd.Flags().GetDuration("idle-timeout"); idle > 0 {
				opts = append(opts, engine.WithIdleTimeout(idle))
			}
			ctrl := engine.NewController(proc, store, opts...)

			model := tui.NewChatModel(ctrl, conv.ID, conv.Title)
			p := tea.NewProgram(model, tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}

	cmd.Flags().String("agent", "agent-runtime", "Agent runtime command")
	cmd.Flags().StringArray("agent-arg", nil, "Extra argument for the agent runtime (repeatable)")
	cmd.Flags().Duration("idle-timeout", 0, "End turns receiving no events within this window (0 disables)")
	return cmd
}
