package database

import (
	"context"
	"time"

	"github.com/npezzotti/roomchat/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockChatRepository) GetAccountById(ctx context.Context, id int) (Account, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockChatRepository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockChatRepository) UpdateAccountStatus(ctx context.Context, id int, status types.AccountStatus) (Account, error) {
	args := m.Called(ctx, id, status)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Room), args.Error(1)
}
func (m *MockChatRepository) GetRoom(ctx context.Context, id string) (types.Room, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Room), args.Error(1)
}
func (m *MockChatRepository) GetDirectRoom(ctx context.Context, pairKey string) (types.Room, error) {
	args := m.Called(ctx, pairKey)
	return args.Get(0).(types.Room), args.Error(1)
}
func (m *MockChatRepository) IsMember(ctx context.Context, roomId string, userId int) (bool, error) {
	args := m.Called(ctx, roomId, userId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) ListRoomsForUser(ctx context.Context, userId int) ([]types.Room, error) {
	args := m.Called(ctx, userId)
	if rooms, ok := args.Get(0).([]types.Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) AppendMessage(ctx context.Context, params AppendMessageParams) (types.Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockChatRepository) GetMessagePage(ctx context.Context, roomId string, limit, offset int) ([]types.Message, int, error) {
	args := m.Called(ctx, roomId, limit, offset)
	if msgs, ok := args.Get(0).([]types.Message); ok {
		return msgs, args.Int(1), args.Error(2)
	}
	return nil, args.Int(1), args.Error(2)
}
func (m *MockChatRepository) GetMessage(ctx context.Context, id string) (types.Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Message), args.Error(1)
}
func (m *MockChatRepository) AddReadReceipt(ctx context.Context, messageId string, userId int, readAt time.Time) (bool, error) {
	args := m.Called(ctx, messageId, userId, readAt)
	return args.Bool(0), args.Error(1)
}
