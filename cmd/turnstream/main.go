// Package main provides the turnstream CLI entrypoint.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joss/turnstream/internal/settings"
	"github.com/joss/turnstream/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "turnstream",
		Short: "Streaming chat frontend for agent runtimes",
		Long: `turnstream drives agent runtimes over a streaming protocol:
conversations, folders, mid-turn approvals, and durable history.

  turnstream chat              Open the newest conversation (or start one)
  turnstream chat <id>         Open a specific conversation
  turnstream history <id>      Print a conversation transcript
  turnstream folders           Manage folders`,
		Version: version,
	}

	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (default ~/.turnstream)")

	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(conversationsCmd())
	rootCmd.AddCommand(foldersCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dataDir(cmd *cobra.Command) string {
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		return dir
	}
	return settings.DataDir()
}

func openStore(cmd *cobra.Command) (*storage.Storage, error) {
	return storage.New(dataDir(cmd))
}

// loadSettings resolves the cascade for a conversation: global file, folder
// file, conversation file, then environment on top of global.
func loadSettings(dir, folderID, conversationID string) (settings.Effective, error) {
	global, err := settings.Load(filepath.Join(dir, "settings.yaml"))
	if err != nil {
		return settings.Effective{}, err
	}
	global = settings.FromEnv(global)

	var folder settings.Scope
	if folderID != "" {
		folder, err = settings.Load(filepath.Join(dir, "folders", folderID+".yaml"))
		if err != nil {
			return settings.Effective{}, err
		}
	}

	var conv settings.Scope
	if conversationID != "" {
		conv, err = settings.Load(filepath.Join(dir, "conversations", conversationID+".yaml"))
		if err != nil {
			return settings.Effective{}, err
		}
	}

	return settings.Resolve(global, folder, conv), nil
}
