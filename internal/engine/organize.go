package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/joss/turnstream/internal/domain"
)

// MoveConversation places a conversation into a folder (empty folderID
// moves it to the root).
func (c *Controller) MoveConversation(ctx context.Context, conversationID, folderID string) error {
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("conversation %s: %w", conversationID, err)
	}
	if folderID != "" {
		if _, err := c.store.GetFolder(ctx, folderID); err != nil {
			return fmt.Errorf("folder %s: %w", folderID, err)
		}
	}
	conv.FolderID = folderID
	conv.UpdatedAt = time.Now()
	return c.store.UpdateConversation(ctx, conv)
}

// DeleteFolder removes a folder after moving its conversations to the root.
// The moves are staged: if the folder delete fails, the conversations are
// replayed back into the folder.
func (c *Controller) DeleteFolder(ctx context.Context, folderID string) error {
	convs, err := c.store.ListConversations(ctx, folderID, 0)
	if err != nil {
		return fmt.Errorf("list folder %s: %w", folderID, err)
	}

	previous := make([]*domain.Conversation, len(convs))
	for i, conv := range convs {
		snap := *conv
		previous[i] = &snap
	}

	stage := NewStaged(previous,
		func() error {
			for _, conv := range convs {
				conv.FolderID = ""
				conv.UpdatedAt = time.Now()
				if err := c.store.UpdateConversation(ctx, conv); err != nil {
					return fmt.Errorf("move conversation %s: %w", conv.ID, err)
				}
			}
			return nil
		},
		func(prev []*domain.Conversation) error {
			for _, conv := range prev {
				if err := c.store.UpdateConversation(ctx, conv); err != nil {
					return fmt.Errorf("restore conversation %s: %w", conv.ID, err)
				}
			}
			return nil
		})

	if err := stage.Apply(); err != nil {
		return err
	}
	return stage.CommitOrRevert(c.store.DeleteFolder(ctx, folderID))
}
