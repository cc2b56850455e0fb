package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/roomchat/internal/config"
	"github.com/npezzotti/roomchat/internal/messages"
	"github.com/npezzotti/roomchat/internal/stats"
	"github.com/npezzotti/roomchat/internal/types"
)

var ErrShuttingDown = errors.New("chat server is shutting down")

type RoomAuthority interface {
	Authorize(ctx context.Context, roomId string, userId int) error
	GetRoom(ctx context.Context, roomId string, userId int) (types.Room, error)
}

type MessageAppender interface {
	Append(ctx context.Context, params messages.AppendParams) (types.Message, error)
}

type AccountChecker interface {
	CheckActive(ctx context.Context, userId int) error
}

// ChatServer owns the live sessions and the loaded room actors.
type ChatServer struct {
	log      *log.Logger
	members  RoomAuthority
	store    MessageAppender
	accounts AccountChecker
	stats    stats.StatsProvider
	registry *Registry

	rooms     map[string]*Room
	roomsLock sync.RWMutex
	stopping  atomic.Bool

	storageTimeout    time.Duration
	typingIdleTimeout time.Duration
	typingSweep       time.Duration
	idleRoomTimeout   time.Duration
	now               func() time.Time
}

func NewChatServer(logger *log.Logger, members RoomAuthority, store MessageAppender, accounts AccountChecker,
	su stats.StatsProvider, cfg *config.Config) (*ChatServer, error) {
	su.RegisterMetric(stats.NumActiveSessions)
	su.RegisterMetric(stats.NumActiveRooms)
	su.RegisterMetric(stats.MessagesPersisted)
	su.RegisterMetric(stats.EventsDropped)

	return &ChatServer{
		log:               logger,
		members:           members,
		store:             store,
		accounts:          accounts,
		stats:             su,
		registry:          NewRegistry(),
		rooms:             make(map[string]*Room),
		storageTimeout:    cfg.StorageTimeout,
		typingIdleTimeout: cfg.TypingIdleTimeout,
		typingSweep:       typingSweep,
		idleRoomTimeout:   idleRoomTimeout,
		now:               time.Now,
	}, nil
}

func (cs *ChatServer) Registry() *Registry {
	return cs.registry
}

// Attach registers a session for an authenticated connection. The caller
// starts its Read and Write pumps.
func (cs *ChatServer) Attach(principal types.Principal, conn *websocket.Conn) (*Session, error) {
	if cs.stopping.Load() {
		return nil, ErrShuttingDown
	}

	s := newSession(cs, principal, conn)
	cs.registry.Add(s)
	cs.stats.Incr(stats.NumActiveSessions)
	cs.log.Printf("session %s attached for user %d", s.id, principal.UserId)
	return s, nil
}

func (cs *ChatServer) unregister(s *Session) {
	if cs.registry.Remove(s) {
		cs.stats.Decr(stats.NumActiveSessions)
		cs.log.Printf("session %s closed for user %d", s.id, s.principal.UserId)
	}
}

func (cs *ChatServer) checkActive(userId int) error {
	ctx, cancel := context.WithTimeout(context.Background(), cs.storageTimeout)
	defer cancel()
	return cs.accounts.CheckActive(ctx, userId)
}

// route hands msg to its room, loading the room actor if needed.
func (cs *ChatServer) route(msg *ClientMessage) bool {
	cs.roomsLock.RLock()
	if r, ok := cs.rooms[msg.RoomId]; ok {
		defer cs.roomsLock.RUnlock()
		return r.enqueue(msg)
	}
	cs.roomsLock.RUnlock()

	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	if cs.stopping.Load() {
		return false
	}

	r, ok := cs.rooms[msg.RoomId]
	if !ok {
		r = newRoom(cs, msg.RoomId)
		cs.rooms[r.id] = r
		cs.stats.Incr(stats.NumActiveRooms)
		go r.start()
	}
	return r.enqueue(msg)
}

// releaseRoom unloads r if it has no sessions and nothing queued. It is
// called from the room's own goroutine.
func (cs *ChatServer) releaseRoom(r *Room) bool {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	if len(r.inbox) > 0 || len(r.sessions) > 0 {
		return false
	}
	if cs.rooms[r.id] != r {
		return false
	}

	delete(cs.rooms, r.id)
	cs.stats.Decr(stats.NumActiveRooms)
	return true
}

// Publish broadcasts msg to every session in roomId. It reports false when
// the room is not loaded or cannot accept the event.
func (cs *ChatServer) Publish(roomId string, msg *ServerMessage) bool {
	cs.roomsLock.RLock()
	defer cs.roomsLock.RUnlock()

	r, ok := cs.rooms[roomId]
	if !ok {
		return false
	}
	return r.enqueue(&ClientMessage{
		Event:   eventPublish,
		RoomId:  roomId,
		publish: msg,
	})
}

// DisconnectUser closes every session of userId and returns how many were
// closed.
func (cs *ChatServer) DisconnectUser(userId int) int {
	sessions := cs.registry.ForUser(userId)
	for _, s := range sessions {
		s.queueMessage(ErrorMessage(0, types.ErrAccountInactive))
		s.close()
	}
	return len(sessions)
}

func (cs *ChatServer) loadedRoom(id string) *Room {
	cs.roomsLock.RLock()
	defer cs.roomsLock.RUnlock()
	return cs.rooms[id]
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	cs.stopping.Store(true)

	done := make(chan struct{})
	go func() {
		defer close(done)

		for _, s := range cs.registry.All() {
			s.close()
		}

		cs.roomsLock.Lock()
		rooms := cs.rooms
		cs.rooms = make(map[string]*Room)
		cs.roomsLock.Unlock()

		for _, r := range rooms {
			cs.log.Println("shutting down room", r.id)
			close(r.exit)
			<-r.done
			cs.stats.Decr(stats.NumActiveRooms)
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
