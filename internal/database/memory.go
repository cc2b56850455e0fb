package database

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/npezzotti/roomchat/internal/types"
)

type memoryRoom struct {
	room     types.Room
	pairKey  string
	seq      int64
	members  map[int]struct{}
	messages []*types.Message
}

// MemoryChatRepository is an in-process ChatRepository. It honors the same
// contracts as the Postgres repository and is used for local runs and tests.
type MemoryChatRepository struct {
	mu          sync.RWMutex
	nextAccount int
	accounts    map[int]Account
	emails      map[string]int
	rooms       map[string]*memoryRoom
	pairs       map[string]string
	messages    map[string]*types.Message
}

func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{
		accounts: make(map[int]Account),
		emails:   make(map[string]int),
		rooms:    make(map[string]*memoryRoom),
		pairs:    make(map[string]string),
		messages: make(map[string]*types.Message),
	}
}

func (db *MemoryChatRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (db *MemoryChatRepository) Close() error {
	return nil
}

func (db *MemoryChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.emails[params.EmailAddress]; ok {
		return Account{}, fmt.Errorf("%w: accounts_email_key", ErrDuplicate)
	}

	role := params.Role
	if role == "" {
		role = types.RoleUser
	}

	db.nextAccount++
	now := time.Now().UTC()
	a := Account{
		Id:           db.nextAccount,
		Username:     params.Username,
		EmailAddress: params.EmailAddress,
		PasswordHash: params.PasswordHash,
		Role:         role,
		Status:       types.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	db.accounts[a.Id] = a
	db.emails[a.EmailAddress] = a.Id

	return a, nil
}

func (db *MemoryChatRepository) GetAccountById(ctx context.Context, id int) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	a, ok := db.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (db *MemoryChatRepository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	id, ok := db.emails[email]
	if !ok {
		return Account{}, ErrNotFound
	}
	return db.accounts[id], nil
}

func (db *MemoryChatRepository) UpdateAccountStatus(ctx context.Context, id int, status types.AccountStatus) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	a, ok := db.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	db.accounts[id] = a

	return a, nil
}

func (db *MemoryChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error) {
	if err := ctx.Err(); err != nil {
		return types.Room{}, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.rooms[params.Id]; ok {
		return types.Room{}, fmt.Errorf("%w: rooms_pkey", ErrDuplicate)
	}
	if params.PairKey != "" {
		if _, ok := db.pairs[params.PairKey]; ok {
			return types.Room{}, fmt.Errorf("%w: rooms_pair_key_key", ErrDuplicate)
		}
	}

	members := make(map[int]struct{}, len(params.Members))
	for _, m := range params.Members {
		if _, ok := db.accounts[m]; !ok {
			return types.Room{}, fmt.Errorf("account %d: %w", m, ErrNotFound)
		}
		members[m] = struct{}{}
	}

	mr := &memoryRoom{
		room: types.Room{
			Id:             params.Id,
			Kind:           params.Kind,
			Name:           params.Name,
			CreatorId:      params.CreatorId,
			Members:        SortedMembers(params.Members),
			LastActivityAt: params.CreatedAt,
			CreatedAt:      params.CreatedAt,
		},
		pairKey: params.PairKey,
		members: members,
	}
	db.rooms[params.Id] = mr
	if params.PairKey != "" {
		db.pairs[params.PairKey] = params.Id
	}

	return cloneRoom(mr.room), nil
}

func (db *MemoryChatRepository) GetRoom(ctx context.Context, id string) (types.Room, error) {
	if err := ctx.Err(); err != nil {
		return types.Room{}, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	mr, ok := db.rooms[id]
	if !ok {
		return types.Room{}, ErrNotFound
	}
	return cloneRoom(mr.room), nil
}

func (db *MemoryChatRepository) GetDirectRoom(ctx context.Context, pairKey string) (types.Room, error) {
	if err := ctx.Err(); err != nil {
		return types.Room{}, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	id, ok := db.pairs[pairKey]
	if !ok {
		return types.Room{}, ErrNotFound
	}
	return cloneRoom(db.rooms[id].room), nil
}

func (db *MemoryChatRepository) IsMember(ctx context.Context, roomId string, userId int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	mr, ok := db.rooms[roomId]
	if !ok {
		return false, ErrNotFound
	}
	_, member := mr.members[userId]
	return member, nil
}

func (db *MemoryChatRepository) ListRoomsForUser(ctx context.Context, userId int) ([]types.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	rooms := []types.Room{}
	for _, mr := range db.rooms {
		if _, ok := mr.members[userId]; ok {
			rooms = append(rooms, cloneRoom(mr.room))
		}
	}

	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].LastActivityAt.Equal(rooms[j].LastActivityAt) {
			return rooms[i].LastActivityAt.After(rooms[j].LastActivityAt)
		}
		return rooms[i].Id < rooms[j].Id
	})

	return rooms, nil
}

func (db *MemoryChatRepository) AppendMessage(ctx context.Context, params AppendMessageParams) (types.Message, error) {
	if err := ctx.Err(); err != nil {
		return types.Message{}, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	mr, ok := db.rooms[params.RoomId]
	if !ok {
		return types.Message{}, ErrNotFound
	}
	if _, ok := db.messages[params.Id]; ok {
		return types.Message{}, fmt.Errorf("%w: messages_pkey", ErrDuplicate)
	}

	if params.CreatedAt.After(mr.room.LastActivityAt) {
		mr.room.LastActivityAt = params.CreatedAt
	}
	mr.seq++

	attachments := params.Attachments
	if attachments == nil {
		attachments = []types.Attachment{}
	}

	msg := &types.Message{
		Id:          params.Id,
		RoomId:      params.RoomId,
		SeqId:       mr.seq,
		SenderId:    params.SenderId,
		Content:     params.Content,
		Kind:        params.Kind,
		Attachments: slices.Clone(attachments),
		ReadBy:      []types.ReadReceipt{},
		CreatedAt:   mr.room.LastActivityAt,
	}
	mr.messages = append(mr.messages, msg)
	db.messages[msg.Id] = msg

	return cloneMessage(msg), nil
}

func (db *MemoryChatRepository) GetMessagePage(ctx context.Context, roomId string, limit, offset int) ([]types.Message, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	msgs := []types.Message{}
	mr, ok := db.rooms[roomId]
	if !ok {
		return msgs, 0, nil
	}
	if offset < 0 {
		offset = 0
	}

	// messages are stored in sequence order
	total := len(mr.messages)
	for i := total - 1 - offset; i >= 0 && len(msgs) < limit; i-- {
		msgs = append(msgs, cloneMessage(mr.messages[i]))
	}

	return msgs, total, nil
}

func (db *MemoryChatRepository) GetMessage(ctx context.Context, id string) (types.Message, error) {
	if err := ctx.Err(); err != nil {
		return types.Message{}, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	msg, ok := db.messages[id]
	if !ok {
		return types.Message{}, ErrNotFound
	}
	return cloneMessage(msg), nil
}

func (db *MemoryChatRepository) AddReadReceipt(ctx context.Context, messageId string, userId int, readAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	msg, ok := db.messages[messageId]
	if !ok {
		return false, ErrNotFound
	}
	if msg.HasReadReceipt(userId) {
		return false, nil
	}

	msg.ReadBy = append(msg.ReadBy, types.ReadReceipt{UserId: userId, ReadAt: readAt})
	return true, nil
}

func cloneRoom(r types.Room) types.Room {
	r.Members = slices.Clone(r.Members)
	return r
}

func cloneMessage(m *types.Message) types.Message {
	out := *m
	out.Attachments = slices.Clone(m.Attachments)
	out.ReadBy = slices.Clone(m.ReadBy)
	return out
}
