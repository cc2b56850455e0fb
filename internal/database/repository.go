package database

import (
	"context"
	"time"

	"github.com/npezzotti/roomchat/internal/types"
)

type ChatRepository interface {
	Ping(ctx context.Context) error
	CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error)
	GetAccountById(ctx context.Context, id int) (Account, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	UpdateAccountStatus(ctx context.Context, id int, status types.AccountStatus) (Account, error)
	CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error)
	GetRoom(ctx context.Context, id string) (types.Room, error)
	GetDirectRoom(ctx context.Context, pairKey string) (types.Room, error)
	IsMember(ctx context.Context, roomId string, userId int) (bool, error)
	ListRoomsForUser(ctx context.Context, userId int) ([]types.Room, error)
	AppendMessage(ctx context.Context, params AppendMessageParams) (types.Message, error)
	// GetMessagePage returns up to limit messages newest first, skipping
	// offset, together with the room's total message count.
	GetMessagePage(ctx context.Context, roomId string, limit, offset int) ([]types.Message, int, error)
	GetMessage(ctx context.Context, id string) (types.Message, error)
	AddReadReceipt(ctx context.Context, messageId string, userId int, readAt time.Time) (bool, error)
}
