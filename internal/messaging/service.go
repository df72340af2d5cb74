// Package messaging composes and lists messages on behalf of a signed-in
// user, and triggers real-time notifications for new messages.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/johndosdos/courier/internal/identity"
	"github.com/johndosdos/courier/internal/model"
	"github.com/johndosdos/courier/internal/store"
)

// DeletedSenderName is shown in place of a sender whose account is gone.
const DeletedSenderName = "Deleted"

var (
	ErrValidation = errors.New("messaging: validation failed")
	ErrNotFound   = errors.New("messaging: not found")
)

type Config struct {
	MaxTextLength int
	PushTimeout   time.Duration
	// FanOutLimit bounds concurrent pushes for one message.
	FanOutLimit int
}

// ComposeRequest is the user's input. Recipients is a comma-separated list
// of emails.
type ComposeRequest struct {
	Recipients string `validate:"required"`
	Title      string `validate:"max=100"`
	Text       string
}

type ComposeResult struct {
	MessageID  uuid.UUID `json:"id"`
	Recipients []string  `json:"recipients"`
	Unresolved []string  `json:"unresolved"`
}

// ReplyDraft prefills a compose form addressed to an earlier sender.
type ReplyDraft struct {
	Emails string `json:"emails"`
	Name   string `json:"name"`
}

type Service struct {
	stores   *store.Provider
	dir      Directory
	notifier Notifier
	cfg      Config
	policy   *bluemonday.Policy
	validate *validator.Validate
	log      *slog.Logger
}

func NewService(stores *store.Provider, dir Directory, notifier Notifier, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = 4000
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 5 * time.Second
	}
	if cfg.FanOutLimit <= 0 {
		cfg.FanOutLimit = 8
	}
	return &Service{
		stores:   stores,
		dir:      dir,
		notifier: notifier,
		cfg:      cfg,
		policy:   bluemonday.StrictPolicy(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      logger.With("component", "messaging"),
	}
}

// ParseRecipients splits a comma-separated list, trims each entry, drops
// blanks and removes duplicates keeping the first occurrence.
func ParseRecipients(csv string) []string {
	parts := lo.Map(strings.Split(csv, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	return lo.Uniq(lo.Compact(parts))
}

// ListInbox returns the messages current received, newest first.
func (s *Service) ListInbox(ctx context.Context, current *model.User) ([]model.MessageView, error) {
	var inbox []model.Message
	err := s.stores.Do(ctx, func(st *store.Store) error {
		var err error
		inbox, err = st.GetInboxForUser(ctx, current)
		return err
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	sortNewestFirst(inbox)
	return s.views(ctx, inbox)
}

// ListSent returns the messages current composed, newest first.
func (s *Service) ListSent(ctx context.Context, current *model.User) ([]model.MessageView, error) {
	var sent []model.Message
	err := s.stores.Do(ctx, func(st *store.Store) error {
		var err error
		sent, err = st.GetMessagesSentByUser(ctx, current)
		return err
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	sortNewestFirst(sent)
	return s.views(ctx, sent)
}

// Compose stores a message from current to every resolvable recipient and
// notifies them. Unknown emails are skipped and reported in the result.
func (s *Service) Compose(ctx context.Context, current *model.User, req ComposeRequest) (ComposeResult, error) {
	if current == nil {
		return ComposeResult{}, fmt.Errorf("%w: current user is nil", store.ErrInvalidArgument)
	}

	emails := ParseRecipients(req.Recipients)
	req.Recipients = strings.Join(emails, ",")
	req.Title = strings.TrimSpace(s.stripMarkup(req.Title))
	req.Text = s.stripMarkup(req.Text)

	if err := s.validateCompose(req); err != nil {
		return ComposeResult{}, err
	}

	// Resolve before opening the transaction; the directory uses its own
	// connection.
	recipients := make([]*model.User, 0, len(emails))
	result := ComposeResult{Recipients: []string{}, Unresolved: []string{}}
	for _, email := range emails {
		u, err := s.dir.FindUserByName(ctx, email)
		if errors.Is(err, identity.ErrUserNotFound) {
			result.Unresolved = append(result.Unresolved, email)
			continue
		}
		if err != nil {
			return ComposeResult{}, fmt.Errorf("failed to resolve recipient: %w", err)
		}
		recipients = append(recipients, u)
		result.Recipients = append(result.Recipients, u.Email)
	}

	m := model.NewMessage()
	err := s.stores.InTx(ctx, func(st *store.Store) error {
		if err := st.SetMessageTitle(ctx, m, lo.EmptyableToPtr(req.Title)); err != nil {
			return err
		}
		if err := st.SetMessageText(ctx, m, lo.EmptyableToPtr(req.Text)); err != nil {
			return err
		}
		if err := st.SetSender(ctx, m, current.ID); err != nil {
			return err
		}
		if err := st.Create(ctx, m); err != nil {
			return err
		}
		for _, u := range recipients {
			if err := st.AddRecipient(ctx, u, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ComposeResult{}, mapStoreErr(err)
	}
	result.MessageID = m.ID

	s.log.InfoContext(ctx, "message composed",
		"message_id", m.ID,
		"sender_id", current.ID,
		"recipients", len(recipients),
		"unresolved", len(result.Unresolved))

	s.fanOut(ctx, recipients, m.ID, current.DisplayName())
	return result, nil
}

// stripMarkup drops HTML tags and keeps plain text as typed. Escaping is left
// to whoever renders the message.
func (s *Service) stripMarkup(v string) string {
	return html.UnescapeString(s.policy.Sanitize(v))
}

func (s *Service) validateCompose(req ComposeRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, describe(err))
	}
	if err := s.validate.Var(req.Text, fmt.Sprintf("max=%d", s.cfg.MaxTextLength)); err != nil {
		return fmt.Errorf("%w: text longer than %d characters", ErrValidation, s.cfg.MaxTextLength)
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	return strings.Join(lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		switch fe.Tag() {
		case "required":
			return strings.ToLower(fe.Field()) + " is required"
		case "max":
			return fmt.Sprintf("%s longer than %s characters", strings.ToLower(fe.Field()), fe.Param())
		default:
			return strings.ToLower(fe.Field()) + " is invalid"
		}
	}), "; ")
}

// fanOut pushes to every recipient independently. A failed push is logged
// and affects no other recipient. The request's cancellation does not apply;
// the message is already stored.
func (s *Service) fanOut(ctx context.Context, recipients []*model.User, messageID uuid.UUID, senderName string) {
	if s.notifier == nil || len(recipients) == 0 {
		return
	}

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PushTimeout)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(s.cfg.FanOutLimit)
	for _, u := range recipients {
		g.Go(func() error {
			if err := s.notifier.Notify(pushCtx, u.ID, messageID, senderName); err != nil {
				s.log.WarnContext(pushCtx, "push failed",
					"recipient_id", u.ID,
					"message_id", messageID,
					"error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// GetMessage returns one message visible to current: one they sent or
// received. Anything else is ErrNotFound.
func (s *Service) GetMessage(ctx context.Context, id uuid.UUID, current *model.User) (model.MessageView, error) {
	if current == nil {
		return model.MessageView{}, fmt.Errorf("%w: current user is nil", store.ErrInvalidArgument)
	}

	var m *model.Message
	err := s.stores.Do(ctx, func(st *store.Store) error {
		var err error
		m, err = st.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if m.SenderID.Valid && m.SenderID.UUID == current.ID {
			return nil
		}

		recipients, err := st.GetRecipientsOfMessage(ctx, m)
		if err != nil {
			return err
		}
		if !lo.ContainsBy(recipients, func(u model.User) bool { return u.ID == current.ID }) {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return model.MessageView{}, mapStoreErr(err)
	}

	views, err := s.views(ctx, []model.Message{*m})
	if err != nil {
		return model.MessageView{}, err
	}
	return views[0], nil
}

// Autocomplete returns the emails starting with term. An empty term returns
// every email.
func (s *Service) Autocomplete(ctx context.Context, term string) ([]string, error) {
	return s.dir.SearchEmails(ctx, term)
}

// ReplyDraft addresses a new message to senderID. An unknown sender yields
// an empty draft.
func (s *Service) ReplyDraft(ctx context.Context, senderID uuid.UUID) (ReplyDraft, error) {
	if senderID == uuid.Nil {
		return ReplyDraft{}, nil
	}

	u, err := s.dir.FindUserByID(ctx, senderID)
	if errors.Is(err, identity.ErrUserNotFound) {
		return ReplyDraft{}, nil
	}
	if err != nil {
		return ReplyDraft{}, err
	}
	return ReplyDraft{Emails: u.Email, Name: u.DisplayName()}, nil
}

// views resolves each sender once.
func (s *Service) views(ctx context.Context, msgs []model.Message) ([]model.MessageView, error) {
	names := map[uuid.UUID]string{}
	out := make([]model.MessageView, 0, len(msgs))

	for _, m := range msgs {
		v := model.MessageView{
			MessageID:         m.ID,
			Title:             lo.FromPtr(m.Title),
			Text:              lo.FromPtr(m.Text),
			CreateDate:        m.CreatedAt,
			SenderDisplayName: DeletedSenderName,
		}

		if m.SenderID.Valid {
			id := m.SenderID.UUID
			v.SenderID = &id

			name, ok := names[id]
			if !ok {
				u, err := s.dir.FindUserByID(ctx, id)
				switch {
				case errors.Is(err, identity.ErrUserNotFound):
					name = DeletedSenderName
				case err != nil:
					return nil, fmt.Errorf("failed to resolve sender: %w", err)
				default:
					name = u.DisplayName()
				}
				names[id] = name
			}
			v.SenderDisplayName = name
		}

		out = append(out, v)
	}
	return out, nil
}

func sortNewestFirst(msgs []model.Message) {
	slices.SortStableFunc(msgs, func(a, b model.Message) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

func mapStoreErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
