package messages

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/npezzotti/roomchat/internal/database"
	"github.com/npezzotti/roomchat/internal/types"
)

const MaxAttachments = 10

type Config struct {
	StorageTimeout   time.Duration
	DefaultPageSize  int
	MaxPageSize      int
	MaxContentLength int
}

type Authorizer interface {
	Authorize(ctx context.Context, roomId string, userId int) error
}

type AppendParams struct {
	RoomId      string
	SenderId    int
	Content     string
	Kind        types.MessageKind
	Attachments []types.Attachment
}

// Store persists room messages and serves their history. Each call
// re-checks membership of the acting user before touching storage.
type Store struct {
	log     *log.Logger
	db      database.ChatRepository
	members Authorizer
	cfg     Config
	now     func() time.Time
}

func NewStore(logger *log.Logger, db database.ChatRepository, members Authorizer, cfg Config) *Store {
	return &Store{
		log:     logger,
		db:      db,
		members: members,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC().Round(time.Millisecond) },
	}
}

// Append validates and persists a message. The returned message carries its
// room sequence number and creation time.
func (s *Store) Append(ctx context.Context, params AppendParams) (types.Message, error) {
	content, kind, err := s.validate(params)
	if err != nil {
		return types.Message{}, err
	}

	if err := s.members.Authorize(ctx, params.RoomId, params.SenderId); err != nil {
		return types.Message{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	msg, err := s.db.AppendMessage(ctx, database.AppendMessageParams{
		Id:          uuid.NewString(),
		RoomId:      params.RoomId,
		SenderId:    params.SenderId,
		Content:     content,
		Kind:        kind,
		Attachments: params.Attachments,
		CreatedAt:   s.now(),
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.Message{}, types.ErrRoomNotFound
		}
		return types.Message{}, fmt.Errorf("%w: append message: %v", types.ErrTransientStorage, err)
	}

	return msg, nil
}

func (s *Store) validate(params AppendParams) (string, types.MessageKind, error) {
	content := strings.TrimSpace(params.Content)
	if content == "" {
		return "", "", fmt.Errorf("%w: content is required", types.ErrValidation)
	}
	if utf8.RuneCountInString(content) > s.cfg.MaxContentLength {
		return "", "", fmt.Errorf("%w: content longer than %d characters", types.ErrValidation, s.cfg.MaxContentLength)
	}

	kind := params.Kind
	if kind == "" {
		kind = types.MessageKindText
	}
	if !kind.Valid() {
		return "", "", fmt.Errorf("%w: invalid message kind %q", types.ErrValidation, kind)
	}

	if len(params.Attachments) > MaxAttachments {
		return "", "", fmt.Errorf("%w: more than %d attachments", types.ErrValidation, MaxAttachments)
	}
	for i, a := range params.Attachments {
		if a.Filename == "" || a.MimeType == "" || a.Size < 0 {
			return "", "", fmt.Errorf("%w: attachment %d is incomplete", types.ErrValidation, i)
		}
		if u, err := url.Parse(a.Url); err != nil || u.Scheme == "" {
			return "", "", fmt.Errorf("%w: attachment %d has an invalid url", types.ErrValidation, i)
		}
	}

	return content, kind, nil
}

// History returns page of the room's messages, oldest first. Page 1 holds the
// newest pageSize messages.
func (s *Store) History(ctx context.Context, roomId string, userId, page, pageSize int) (types.MessagePage, error) {
	if err := s.members.Authorize(ctx, roomId, userId); err != nil {
		return types.MessagePage{}, err
	}

	page, pageSize = s.clamp(page, pageSize)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	msgs, total, err := s.db.GetMessagePage(ctx, roomId, pageSize, (page-1)*pageSize)
	if err != nil {
		return types.MessagePage{}, fmt.Errorf("%w: get messages: %v", types.ErrTransientStorage, err)
	}

	// storage returns newest first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return types.MessagePage{
		Messages: msgs,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		Pages:    (total + pageSize - 1) / pageSize,
	}, nil
}

func (s *Store) clamp(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = s.cfg.DefaultPageSize
	}
	if pageSize > s.cfg.MaxPageSize {
		pageSize = s.cfg.MaxPageSize
	}
	// keep (page-1)*pageSize within int
	if maxPage := math.MaxInt / pageSize; page > maxPage {
		page = maxPage
	}
	return page, pageSize
}

// MarkRead records that userId read messageId. Only the first read is kept;
// added reports whether this call recorded it.
func (s *Store) MarkRead(ctx context.Context, messageId string, userId int) (types.Message, bool, error) {
	if _, err := uuid.Parse(messageId); err != nil {
		return types.Message{}, false, fmt.Errorf("%w: %q", types.ErrMessageNotFound, messageId)
	}

	msg, err := s.getMessage(ctx, messageId)
	if err != nil {
		return types.Message{}, false, err
	}

	if err := s.members.Authorize(ctx, msg.RoomId, userId); err != nil {
		return types.Message{}, false, err
	}

	if msg.HasReadReceipt(userId) {
		return msg, false, nil
	}

	addCtx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	added, err := s.db.AddReadReceipt(addCtx, messageId, userId, s.now())
	cancel()
	if err != nil {
		return types.Message{}, false, fmt.Errorf("%w: add read receipt: %v", types.ErrTransientStorage, err)
	}

	msg, err = s.getMessage(ctx, messageId)
	if err != nil {
		return types.Message{}, false, err
	}

	return msg, added, nil
}

func (s *Store) getMessage(ctx context.Context, messageId string) (types.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()

	msg, err := s.db.GetMessage(ctx, messageId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return types.Message{}, fmt.Errorf("%w: %q", types.ErrMessageNotFound, messageId)
		}
		return types.Message{}, fmt.Errorf("%w: get message: %v", types.ErrTransientStorage, err)
	}
	return msg, nil
}
