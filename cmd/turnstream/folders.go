package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/joss/turnstream/internal/domain"
	"github.com/joss/turnstream/internal/engine"
	"github.com/joss/turnstream/internal/logging"
	"github.com/joss/turnstream/internal/runtime"
)

func foldersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folders",
		Short: "Manage conversation folders",
	}
	cmd.AddCommand(folderListCmd(), folderCreateCmd(), folderRenameCmd(), folderDeleteCmd(), folderMoveCmd())
	return cmd
}

// noRuntime backs organize-only controllers; these commands never start a
// turn.
type noRuntime struct{}

func (noRuntime) StartTurn(context.Context, runtime.TurnRequest) (<-chan domain.StreamChunk, error) {
	return nil, fmt.Errorf("no runtime attached")
}

func (noRuntime) Respond(context.Context, runtime.Decision) error {
	return fmt.Errorf("no runtime attached")
}

func organizer(store domain.Store) *engine.Controller {
	return engine.NewController(noRuntime{}, store, engine.WithLogger(logging.New("cli")))
}

func folderListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List folders",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			folders, err := store.ListFolders(cmd.Context())
			if err != nil {
				return err
			}
			muted := color.New(color.FgHiBlack)
			for _, folder := range folders {
				fmt.Printf("%s  %s  ", folder.ID, folder.Name)
				muted.Printf("%s\n", folder.CreatedAt.Format("2006-01-02"))
			}
			return nil
		},
	}
}

func folderCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			folder := &domain.Folder{
				ID:        ulid.Make().String(),
				Name:      args[0],
				CreatedAt: time.Now(),
			}
			if err := store.CreateFolder(cmd.Context(), folder); err != nil {
				return err
			}
			fmt.Println(folder.ID)
			return nil
		},
	}
}

func folderRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <folder-id> <name>",
		Short: "Rename a folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			folder, err := store.GetFolder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			folder.Name = args[1]
			return store.UpdateFolder(cmd.Context(), folder)
		},
	}
}

func folderDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <folder-id>",
		Short: "Delete a folder, moving its conversations to the root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			return organizer(store).DeleteFolder(cmd.Context(), args[0])
		},
	}
}

func folderMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <conversation-id> [folder-id]",
		Short: "Move a conversation into a folder (omit folder to move to root)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			folderID := ""
			if len(args) > 1 {
				folderID = args[1]
			}
			return organizer(store).MoveConversation(cmd.Context(), args[0], folderID)
		},
	}
}
