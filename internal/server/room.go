package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/npezzotti/roomchat/internal/messages"
	"github.com/npezzotti/roomchat/internal/presence"
	"github.com/npezzotti/roomchat/internal/stats"
	"github.com/npezzotti/roomchat/internal/types"
)

const (
	idleRoomTimeout = time.Second * 5
	typingSweep     = time.Second
	roomInboxSize   = 256
)

// Room is the actor for one loaded room. Every room-scoped event is handled
// on its goroutine, which owns the joined sessions and typing state.
type Room struct {
	id       string
	cs       *ChatServer
	log      *log.Logger
	inbox    chan *ClientMessage
	sessions map[*Session]struct{}
	typing   *presence.Tracker
	// killTimer is used to automatically unload the room when it is no longer active
	killTimer *time.Timer
	// exit is used to signal the room to exit
	exit chan struct{}
	done chan struct{}
}

type roomHandler func(r *Room, msg *ClientMessage)

var roomHandlers = map[EventType]roomHandler{
	EventJoinRoom:    (*Room).handleJoin,
	EventLeaveRoom:   (*Room).handleLeave,
	EventSendMessage: (*Room).saveAndBroadcast,
	EventTypingStart: (*Room).handleTyping,
	EventTypingStop:  (*Room).handleTyping,
	eventDisconnect:  (*Room).handleDisconnect,
	eventPublish:     (*Room).handlePublish,
}

func newRoom(cs *ChatServer, id string) *Room {
	return &Room{
		id:       id,
		cs:       cs,
		log:      cs.log,
		inbox:    make(chan *ClientMessage, roomInboxSize),
		sessions: make(map[*Session]struct{}),
		typing:   presence.NewTracker(cs.typingIdleTimeout),
		exit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.id)
	defer close(r.done)

	r.killTimer = time.NewTimer(r.cs.idleRoomTimeout)
	sweep := time.NewTicker(r.cs.typingSweep)
	defer func() {
		r.killTimer.Stop()
		sweep.Stop()
	}()

	for {
		select {
		case msg := <-r.inbox:
			if handler, ok := roomHandlers[msg.Event]; ok {
				handler(r, msg)
			}
			if len(r.sessions) == 0 {
				r.killTimer.Reset(r.cs.idleRoomTimeout)
			} else {
				r.killTimer.Stop()
			}
		case <-sweep.C:
			r.expireTyping(r.cs.now())
		case <-r.killTimer.C:
			if r.cs.releaseRoom(r) {
				r.log.Printf("room %q unloaded", r.id)
				return
			}
		case <-r.exit:
			r.log.Printf("room %q is exiting", r.id)
			return
		}
	}
}

// enqueue hands msg to the room without blocking.
func (r *Room) enqueue(msg *ClientMessage) bool {
	select {
	case r.inbox <- msg:
		return true
	default:
		return false
	}
}

func (r *Room) handleJoin(msg *ClientMessage) {
	s := msg.session
	if _, ok := r.sessions[s]; ok {
		s.queueMessage(r.joinAck(msg))
		return
	}

	if !s.addRoom(r) {
		// the session closed while the join was queued
		return
	}
	r.sessions[s] = struct{}{}

	s.queueMessage(r.joinAck(msg))

	joined := UserJoined(r.id, msg.UserId)
	joined.SkipSession = s
	r.broadcast(joined)
}

func (r *Room) joinAck(msg *ClientMessage) *ServerMessage {
	return NoErrOK(msg.Id, map[string]any{
		"room":   msg.room,
		"typing": r.typing.Typing(),
	})
}

func (r *Room) handleLeave(msg *ClientMessage) {
	s := msg.session
	if _, ok := r.sessions[s]; !ok {
		s.queueMessage(NoErrOK(msg.Id, nil))
		return
	}

	r.removeSession(s)
	s.queueMessage(NoErrOK(msg.Id, nil))

	left := UserLeft(r.id, msg.UserId)
	left.SkipSession = s
	r.broadcast(left)
}

func (r *Room) handleDisconnect(msg *ClientMessage) {
	s := msg.session
	if _, ok := r.sessions[s]; !ok {
		return
	}

	r.removeSession(s)
	r.broadcast(UserLeft(r.id, msg.UserId))
}

// removeSession drops s from the room and clears any typing state it held.
func (r *Room) removeSession(s *Session) {
	delete(r.sessions, s)
	s.delRoom(r.id)

	for _, userId := range r.typing.Release(s) {
		stopped := TypingIndicator(r.id, userId, false)
		stopped.SkipSession = s
		r.broadcast(stopped)
	}
}

func (r *Room) handleTyping(msg *ClientMessage) {
	s := msg.session
	if _, ok := r.sessions[s]; !ok {
		s.queueMessage(ErrorMessage(msg.Id, fmt.Errorf("%w: room %q not joined", types.ErrValidation, r.id)))
		return
	}

	isTyping := msg.Event == EventTypingStart
	r.typing.Set(msg.UserId, s, isTyping, r.cs.now())

	indicator := TypingIndicator(r.id, msg.UserId, isTyping)
	indicator.SkipSession = s
	r.broadcast(indicator)
}

func (r *Room) expireTyping(now time.Time) {
	for _, e := range r.typing.Expire(now) {
		stopped := TypingIndicator(r.id, e.UserId, false)
		stopped.SkipSession, _ = e.Holder.(*Session)
		r.broadcast(stopped)
	}
}

// saveAndBroadcast persists a message and fans it out. Nothing is broadcast
// unless the append succeeds. The append is not bound to the sender's
// connection so it completes even if the sender disconnects.
func (r *Room) saveAndBroadcast(msg *ClientMessage) {
	saved, err := r.cs.store.Append(context.Background(), messages.AppendParams{
		RoomId:      r.id,
		SenderId:    msg.UserId,
		Content:     msg.Content,
		Kind:        msg.Kind,
		Attachments: msg.Attachments,
	})
	if err != nil {
		r.log.Printf("append message to room %q: %v", r.id, err)
		msg.session.queueMessage(ErrorMessage(msg.Id, err))
		return
	}
	r.cs.stats.Incr(stats.MessagesPersisted)

	msg.session.queueMessage(NoErrOK(msg.Id, map[string]any{"message": saved}))

	received := MessageReceived(saved)
	received.SkipSession = msg.session
	r.broadcast(received)
}

func (r *Room) handlePublish(msg *ClientMessage) {
	r.broadcast(msg.publish)
}

func (r *Room) broadcast(msg *ServerMessage) {
	for s := range r.sessions {
		if s == msg.SkipSession {
			continue
		}

		s.queueMessage(msg)
	}
}
