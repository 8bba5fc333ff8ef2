package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DeleteAccountMessage soft deletes the acting user's account
type DeleteAccountMessage struct {
	UserID uuid.UUID
	Actor  ActorRef
	Reason string
}

func (m DeleteAccountMessage) Type() string { return "user.delete" }

type DeleteAccountHandler struct {
	repo      RepositoryManager
	lifecycle UserLifecycle
}

// NewDeleteAccountHandler creates a handler.
func NewDeleteAccountHandler(repo RepositoryManager, lifecycle UserLifecycle) *DeleteAccountHandler {
	return &DeleteAccountHandler{repo: repo, lifecycle: lifecycle}
}

func (h *DeleteAccountHandler) Execute(ctx context.Context, event DeleteAccountMessage) error {
	if err := contextCancelled(ctx, "account deletion"); err != nil {
		return err
	}
	return h.execute(ctx, event)
}

func (h *DeleteAccountHandler) execute(ctx context.Context, event DeleteAccountMessage) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	actor := event.Actor
	if actor == (ActorRef{}) {
		actor = ActorRef{Type: "user", ID: event.UserID.String()}
	}

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().FindByIDTx(ctx, tx, event.UserID)
		if err != nil {
			return err
		}

		_, err = h.lifecycle.SoftDelete(ctx, actor, user,
			WithTransitionTx(tx),
			WithTransitionReason(event.Reason),
		)
		return err
	})

	return commandError(err, "failed to delete account")
}
