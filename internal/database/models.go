package database

import (
	"time"

	"github.com/npezzotti/roomchat/internal/types"
)

type Account struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	Role         types.Role
	Status       types.AccountStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (a Account) User() types.User {
	return types.User{
		Id:           a.Id,
		Username:     a.Username,
		EmailAddress: a.EmailAddress,
		Role:         a.Role,
		Status:       a.Status,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
	Role         types.Role
}

type CreateRoomParams struct {
	Id        string
	Kind      types.RoomKind
	Name      string
	CreatorId int
	// PairKey is set for direct rooms only.
	PairKey   string
	Members   []int
	CreatedAt time.Time
}

type AppendMessageParams struct {
	Id          string
	RoomId      string
	SenderId    int
	Content     string
	Kind        types.MessageKind
	Attachments []types.Attachment
	CreatedAt   time.Time
}
