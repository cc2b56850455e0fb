package types

import (
	"time"
)

type RoomKind string

const (
	RoomKindDirect RoomKind = "direct"
	RoomKindGroup  RoomKind = "group"
)

type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
	MessageKindFile  MessageKind = "file"
)

func (k MessageKind) Valid() bool {
	switch k {
	case MessageKindText, MessageKindImage, MessageKindFile:
		return true
	}
	return false
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusInactive AccountStatus = "inactive"
)

// Principal is the identity bound to a verified credential.
type Principal struct {
	UserId int  `json:"user_id"`
	Role   Role `json:"role"`
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

type User struct {
	Id           int           `json:"id"`
	Username     string        `json:"username"`
	EmailAddress string        `json:"email_address,omitempty"`
	Role         Role          `json:"role"`
	Status       AccountStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at,omitempty"`
}

type Room struct {
	Id             string    `json:"id"`
	Kind           RoomKind  `json:"kind"`
	Name           string    `json:"name,omitempty"`
	CreatorId      int       `json:"creator_id"`
	Members        []int     `json:"members"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

type Attachment struct {
	Filename string `json:"filename"`
	Url      string `json:"url"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

type ReadReceipt struct {
	UserId int       `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

type Message struct {
	Id          string        `json:"id"`
	RoomId      string        `json:"room_id"`
	SeqId       int64         `json:"seq_id"`
	SenderId    int           `json:"sender_id"`
	Content     string        `json:"content"`
	Kind        MessageKind   `json:"kind"`
	Attachments []Attachment  `json:"attachments"`
	ReadBy      []ReadReceipt `json:"read_by"`
	CreatedAt   time.Time     `json:"created_at"`
}

// HasReadReceipt reports whether userId already read the message.
func (m Message) HasReadReceipt(userId int) bool {
	for _, r := range m.ReadBy {
		if r.UserId == userId {
			return true
		}
	}
	return false
}

// MessagePage is one page of room history, oldest message first.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	Total    int       `json:"total"`
	Pages    int       `json:"pages"`
}
