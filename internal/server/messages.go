package server

import (
	"net/http"
	"time"

	"github.com/npezzotti/roomchat/internal/types"
)

type EventType string

const (
	EventJoinRoom    EventType = "join-room"
	EventLeaveRoom   EventType = "leave-room"
	EventSendMessage EventType = "send-message"
	EventTypingStart EventType = "typing-start"
	EventTypingStop  EventType = "typing-stop"

	EventAck             EventType = "ack"
	EventError           EventType = "error"
	EventUserJoined      EventType = "user-joined"
	EventUserLeft        EventType = "user-left"
	EventMessageReceived EventType = "message-received"
	EventTypingIndicator EventType = "typing-indicator"
	EventReadReceipt     EventType = "read-receipt"

	// internal room events, never sent by clients
	eventDisconnect EventType = "disconnect"
	eventPublish    EventType = "publish"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Event       EventType          `json:"event"`
	RoomId      string             `json:"room_id"`
	Content     string             `json:"content,omitempty"`
	Kind        types.MessageKind  `json:"kind,omitempty"`
	Attachments []types.Attachment `json:"attachments,omitempty"`
	UserId      int                `json:"-"`

	session *Session
	// room is resolved by the session before a join reaches the room
	room *types.Room
	// publish carries an out-of-band event for the room to broadcast
	publish *ServerMessage
}

type ServerMessage struct {
	BaseMessage
	Event       EventType      `json:"event"`
	Response    *Response      `json:"response,omitempty"`
	Error       *Error         `json:"error,omitempty"`
	Message     *types.Message `json:"message,omitempty"`
	Presence    *Presence      `json:"presence,omitempty"`
	Typing      *Typing        `json:"typing,omitempty"`
	Receipt     *Receipt       `json:"receipt,omitempty"`
	SkipSession *Session       `json:"-"`
}

type Response struct {
	ResponseCode int `json:"code"`
	Data         any `json:"data,omitempty"`
}

type Error struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

type Presence struct {
	UserId int    `json:"user_id"`
	RoomId string `json:"room_id"`
}

type Typing struct {
	UserId   int    `json:"user_id"`
	RoomId   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

type Receipt struct {
	MessageId string    `json:"message_id"`
	RoomId    string    `json:"room_id"`
	UserId    int       `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Event: EventAck,
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

// ErrorMessage reports err to the connection that caused it. Details of
// unexpected failures are not exposed.
func ErrorMessage(id int, err error) *ServerMessage {
	code := types.CodeOf(err)
	message := err.Error()
	switch code {
	case types.CodeInternal:
		message = "internal server error"
	case types.CodeTransientStorage:
		message = "service unavailable, try again"
	}

	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Event: EventError,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return ErrorMessage(id, types.ErrTransientStorage)
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := ErrorMessage(0, types.ErrValidation)
	msg.Error.Message = "invalid message format"
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func UserJoined(roomId string, userId int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event:       EventUserJoined,
		Presence:    &Presence{UserId: userId, RoomId: roomId},
	}
}

func UserLeft(roomId string, userId int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event:       EventUserLeft,
		Presence:    &Presence{UserId: userId, RoomId: roomId},
	}
}

func TypingIndicator(roomId string, userId int, isTyping bool) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event:       EventTypingIndicator,
		Typing:      &Typing{UserId: userId, RoomId: roomId, IsTyping: isTyping},
	}
}

func MessageReceived(msg types.Message) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event:       EventMessageReceived,
		Message:     &msg,
	}
}

func ReadReceipt(roomId, messageId string, userId int, readAt time.Time) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event:       EventReadReceipt,
		Receipt: &Receipt{
			MessageId: messageId,
			RoomId:    roomId,
			UserId:    userId,
			ReadAt:    readAt,
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
