package messaging

//go:generate go run go.uber.org/mock/mockgen -source=notifier.go -destination=../mocks/mock_notifier.go -package=mocks

import (
	"context"

	"github.com/google/uuid"

	"github.com/johndosdos/courier/internal/model"
)

// Notifier pushes new-message events to a recipient's live sessions. Delivery
// is best effort; an error means this push was lost, nothing more.
type Notifier interface {
	Notify(ctx context.Context, recipientID, messageID uuid.UUID, senderName string) error
}

// Directory resolves users.
type Directory interface {
	FindUserByName(ctx context.Context, name string) (*model.User, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	SearchEmails(ctx context.Context, prefix string) ([]string, error)
}
