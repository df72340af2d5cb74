package store

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/courier/internal/model"
	"github.com/johndosdos/courier/internal/testutil"
)

func ptr(s string) *string { return &s }

func newProvider(t *testing.T) (*Provider, func(email, name string) model.User) {
	t.Helper()
	db := testutil.DbInit(t)
	insert := func(email, name string) model.User {
		return testutil.InsertUser(t, db, email, name)
	}
	return NewProvider(db.DB, testutil.Logger()), insert
}

func TestCreateAndFindByID(t *testing.T) {
	p, insertUser := newProvider(t)
	ctx := context.Background()
	alice := insertUser("alice@x.com", "Alice")

	s := p.Acquire()
	defer s.Release()

	created := time.Date(2024, 3, 1, 12, 30, 0, 123456789, time.UTC)
	m := &model.Message{Title: ptr("Hi"), Text: ptr("hello"), CreatedAt: created}
	require.NoError(t, s.SetSender(ctx, m, alice.ID))
	require.NoError(t, s.Create(ctx, m))

	assert.NotEqual(t, uuid.Nil, m.ID)
	assert.Equal(t, int64(1), m.Version)

	got, err := s.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, "Hi", *got.Title)
	assert.Equal(t, "hello", *got.Text)
	assert.True(t, created.Truncate(time.Microsecond).Equal(got.CreatedAt), "got %v", got.CreatedAt)
	assert.Equal(t, uuid.NullUUID{UUID: alice.ID, Valid: true}, got.SenderID)
	assert.Equal(t, int64(1), got.Version)
}

func TestCreateDefaults(t *testing.T) {
	p, _ := newProvider(t)
	ctx := context.Background()
	s := p.Acquire()
	defer s.Release()

	before := time.Now()
	m := &model.Message{}
	require.NoError(t, s.Create(ctx, m))

	got, err := s.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Title)
	assert.Nil(t, got.Text)
	assert.False(t, got.SenderID.Valid)
	assert.WithinDuration(t, before, got.CreatedAt, 5*time.Second)
}

func TestCreateTitleTooLong(t *testing.T) {
	p, _ := newProvider(t)
	ctx := context.Background()
	s := p.Acquire()
	defer s.Release()

	tests := []struct {
		name    string
		title   string
		wantErr bool
	}{
		{"at limit", strings.Repeat("a", MaxTitleLength), false},
		{"multibyte at limit", strings.Repeat("é", MaxTitleLength), false},
		{"over limit", strings.Repeat("a", MaxTitleLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Create(ctx, &model.Message{Title: ptr(tt.title)})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFindByTitle(t *testing.T) {
	p, _ := newProvider(t)
	ctx := context.Background()
	s := p.Acquire()
	defer s.Release()

	first := &model.Message{Title: ptr("dup"), Text: ptr("first")}
	second := &model.Message{Title: ptr("dup"), Text: ptr("second")}
	require.NoError(t, s.Create(ctx, first))
	require.NoError(t, s.Create(ctx, second))

	got, err := s.FindByTitle(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = s.FindByTitle(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate(t *testing.T) {
	p, _ := newProvider(t)
	ctx := context.Background()
	s := p.Acquire()
	defer s.Release()

	m := &model.Message{Title: ptr("draft"), Text: ptr("v1")}
	require.NoError(t, s.Create(ctx, m))
	created := m.CreatedAt

	require.NoError(t, s.SetMessageText(ctx, m, ptr("v2")))
	require.NoError(t, s.SetMessageCreateDate(ctx, m, created.Add(time.Hour)))
	require.NoError(t, s.Update(ctx, m))
	assert.Equal(t, int64(2), m.Version)

	got, err := s.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", *got.Text)
	assert.True(t, created.Equal(got.CreatedAt), "create date must not change on update")
	assert.Equal(t, int64(2), got.Version)

	stale := *got
	stale.Version = 1
	assert.ErrorIs(t, s.Update(ctx, &stale), ErrConcurrencyFailure)
}

func TestConcurrentUpdate(t *testing.T) {
	p, _ := newProvider(t)
	ctx := context.Background()

	m := &model.Message{Title: ptr("race")}
	require.NoError(t, p.Do(ctx, func(s *Store) error { return s.Create(ctx, m) }))

	const workers = 2
	var (
		wg   sync.WaitGroup
		errs = make([]error, workers)
	)
	for i := range workers {
		copied := *m
		copied.Text = ptr("writer")
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = p.Do(ctx, func(s *Store) error { return s.Update(ctx, &copied) })
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ErrConcurrencyFailure):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
}

func TestDelete(t *testing.T) {
	p, insertUser := newProvider(t)
	ctx := context.Background()
	bob := insertUser("bob@x.com", "")
	s := p.Acquire()
	defer s.Release()

	m := &model.Message{Title: ptr("bye")}
	require.NoError(t, s.Create(ctx, m))
	require.NoError(t, s.AddRecipient(ctx, &bob, m))

	stale := *m
	stale.Version = 7
	assert.ErrorIs(t, s.Delete(ctx, &stale), ErrConcurrencyFailure)

	require.NoError(t, s.Delete(ctx, m))

	_, err := s.FindByID(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	inbox, err := s.GetInboxForUser(ctx, &bob)
	require.NoError(t, err)
	assert.Empty(t, inbox)

	assert.ErrorIs(t, s.Delete(ctx, m), ErrConcurrencyFailure)
}

func TestAccessors(t *testing.T) {
	p, _ := newProvider(t)
	ctx := context.Background()
	s := p.Acquire()
	defer s.Release()

	m := model.NewMessage()
	require.NoError(t, s.SetMessageTitle(ctx, m, ptr("t")))
	require.NoError(t, s.SetMessageText(ctx, m, nil))

	id, err := s.MessageID(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, m.ID, id)

	title, err := s.MessageTitle(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, "t", *title)

	text, err := s.MessageText(ctx, m)
	require.NoError(t, err)
	assert.Nil(t, text)

	sender, err := s.MessageSenderID(ctx, m)
	require.NoError(t, err)
	assert.False(t, sender.Valid)

	date, err := s.MessageCreateDate(ctx, m)
	require.NoError(t, err)
	assert.True(t, date.IsZero())
}

func TestStoreGuards(t *testing.T) {
	p, _ := newProvider(t)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	released := p.Acquire()
	released.Release()
	released.Release()

	tests := []struct {
		name    string
		store   *Store
		ctx     context.Context
		msg     *model.Message
		wantErr error
	}{
		{"released", released, context.Background(), model.NewMessage(), ErrDisposed},
		{"released beats nil", released, context.Background(), nil, ErrDisposed},
		{"cancelled", p.Acquire(), cancelled, model.NewMessage(), context.Canceled},
		{"nil message", p.Acquire(), context.Background(), nil, ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.store
			assert.ErrorIs(t, s.Create(tt.ctx, tt.msg), tt.wantErr)
			assert.ErrorIs(t, s.Update(tt.ctx, tt.msg), tt.wantErr)
			assert.ErrorIs(t, s.Delete(tt.ctx, tt.msg), tt.wantErr)
			assert.ErrorIs(t, s.SetSender(tt.ctx, tt.msg, uuid.New()), tt.wantErr)
			_, err := s.MessageTitle(tt.ctx, tt.msg)
			assert.ErrorIs(t, err, tt.wantErr)
			_, err = s.GetSender(tt.ctx, tt.msg)
			assert.ErrorIs(t, err, tt.wantErr)
			_, err = s.GetRecipientsOfMessage(tt.ctx, tt.msg)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Nothing was written by the rejected calls.
	err := p.Do(context.Background(), func(s *Store) error {
		_, err := s.FindByTitle(context.Background(), "")
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInTxRollback(t *testing.T) {
	p, insertUser := newProvider(t)
	ctx := context.Background()
	bob := insertUser("bob@x.com", "")

	m := &model.Message{Title: ptr("rolled back")}
	err := p.InTx(ctx, func(s *Store) error {
		if err := s.Create(ctx, m); err != nil {
			return err
		}
		// Unknown user violates the foreign key.
		return s.AddRecipient(ctx, &model.User{ID: uuid.New()}, m)
	})
	require.Error(t, err)

	s := p.Acquire()
	defer s.Release()
	_, err = s.FindByID(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	inbox, err := s.GetInboxForUser(ctx, &bob)
	require.NoError(t, err)
	assert.Empty(t, inbox)
}

func TestInTxCancelled(t *testing.T) {
	p, _ := newProvider(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := p.InTx(ctx, func(*Store) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
