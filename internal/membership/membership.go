package membership

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/npezzotti/roomchat/internal/database"
	"github.com/npezzotti/roomchat/internal/types"
	"github.com/teris-io/shortid"
	"golang.org/x/sync/singleflight"
)

const MaxRoomNameLength = 100

type CreateRoomParams struct {
	CreatorId int
	Kind      types.RoomKind
	Name      string
	MemberIds []int
}

// Authority is the single owner of room membership. Every room-scoped read
// or write asks it whether the caller belongs to the room; answers are read
// from storage on each call.
type Authority struct {
	log     *log.Logger
	db      database.ChatRepository
	timeout time.Duration
	direct  singleflight.Group
	newId   func() (string, error)
}

func NewAuthority(logger *log.Logger, db database.ChatRepository, timeout time.Duration) *Authority {
	return &Authority{
		log:     logger,
		db:      db,
		timeout: timeout,
		newId:   shortid.Generate,
	}
}

// CreateRoom creates a room with the creator and memberIds as members. For
// direct rooms it returns the existing room of the pair when there is one,
// with created set to false.
func (a *Authority) CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, bool, error) {
	if params.CreatorId <= 0 {
		return types.Room{}, false, fmt.Errorf("%w: invalid creator id %d", types.ErrInvalidMembership, params.CreatorId)
	}

	members, err := normalizeMembers(params.CreatorId, params.MemberIds)
	if err != nil {
		return types.Room{}, false, err
	}

	name := strings.TrimSpace(params.Name)
	if utf8.RuneCountInString(name) > MaxRoomNameLength {
		return types.Room{}, false, fmt.Errorf("%w: room name longer than %d characters", types.ErrValidation, MaxRoomNameLength)
	}

	switch params.Kind {
	case types.RoomKindDirect:
		if len(members) != 2 {
			return types.Room{}, false, fmt.Errorf("%w: direct room needs exactly 2 members, got %d", types.ErrInvalidMembership, len(members))
		}
		return a.getOrCreateDirect(ctx, params.CreatorId, name, members)
	case types.RoomKindGroup:
		if len(members) < 2 {
			return types.Room{}, false, fmt.Errorf("%w: group room needs at least one member besides the creator", types.ErrInvalidMembership)
		}
		room, err := a.create(ctx, database.CreateRoomParams{
			Kind:      types.RoomKindGroup,
			Name:      name,
			CreatorId: params.CreatorId,
			Members:   members,
		})
		return room, err == nil, err
	default:
		return types.Room{}, false, fmt.Errorf("%w: unknown room kind %q", types.ErrValidation, params.Kind)
	}
}

type directResult struct {
	room    types.Room
	created bool
}

func (a *Authority) getOrCreateDirect(ctx context.Context, creatorId int, name string, members []int) (types.Room, bool, error) {
	pairKey := database.PairKey(members[0], members[1])

	v, err, shared := a.direct.Do(pairKey, func() (any, error) {
		room, err := a.findDirect(ctx, pairKey)
		if err == nil {
			return directResult{room: room}, nil
		}
		if !errors.Is(err, types.ErrRoomNotFound) {
			return nil, err
		}

		room, err = a.create(ctx, database.CreateRoomParams{
			Kind:      types.RoomKindDirect,
			Name:      name,
			CreatorId: creatorId,
			PairKey:   pairKey,
			Members:   members,
		})
		if errors.Is(err, database.ErrDuplicate) {
			// created concurrently by another process
			room, err = a.findDirect(ctx, pairKey)
			return directResult{room: room}, err
		}
		if err != nil {
			return nil, err
		}

		return directResult{room: room, created: true}, nil
	})
	if err != nil {
		return types.Room{}, false, err
	}

	res := v.(directResult)
	// concurrent callers for the same pair all see an existing room
	return res.room, res.created && !shared, nil
}

func (a *Authority) findDirect(ctx context.Context, pairKey string) (types.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	room, err := a.db.GetDirectRoom(ctx, pairKey)
	if err != nil {
		return types.Room{}, storageError("get direct room", err)
	}
	return room, nil
}

func (a *Authority) create(ctx context.Context, params database.CreateRoomParams) (types.Room, error) {
	id, err := a.newId()
	if err != nil {
		return types.Room{}, fmt.Errorf("generate room id: %w", err)
	}
	params.Id = id
	params.CreatedAt = time.Now().UTC().Round(time.Millisecond)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	room, err := a.db.CreateRoom(ctx, params)
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return types.Room{}, err
		}
		if errors.Is(err, database.ErrNotFound) {
			return types.Room{}, fmt.Errorf("%w: unknown member account", types.ErrInvalidMembership)
		}
		return types.Room{}, storageError("create room", err)
	}

	a.log.Printf("created %s room %q with members %v", room.Kind, room.Id, room.Members)
	return room, nil
}

// IsMember reports whether userId belongs to roomId. It fails with
// types.ErrRoomNotFound when the room does not exist.
func (a *Authority) IsMember(ctx context.Context, roomId string, userId int) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ok, err := a.db.IsMember(ctx, roomId, userId)
	if err != nil {
		return false, storageError("is member", err)
	}
	return ok, nil
}

// Authorize returns nil when userId may act in roomId.
func (a *Authority) Authorize(ctx context.Context, roomId string, userId int) error {
	ok, err := a.IsMember(ctx, roomId, userId)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: user %d in room %q", types.ErrNotMember, userId, roomId)
	}
	return nil
}

// GetRoom returns roomId if userId is a member of it.
func (a *Authority) GetRoom(ctx context.Context, roomId string, userId int) (types.Room, error) {
	if err := a.Authorize(ctx, roomId, userId); err != nil {
		return types.Room{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	room, err := a.db.GetRoom(ctx, roomId)
	if err != nil {
		return types.Room{}, storageError("get room", err)
	}
	return room, nil
}

// ListRoomsFor returns the rooms of userId, most recently active first.
func (a *Authority) ListRoomsFor(ctx context.Context, userId int) ([]types.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	rooms, err := a.db.ListRoomsForUser(ctx, userId)
	if err != nil {
		return nil, storageError("list rooms", err)
	}
	return rooms, nil
}

func normalizeMembers(creatorId int, memberIds []int) ([]int, error) {
	members := []int{creatorId}
	for _, id := range memberIds {
		if id <= 0 {
			return nil, fmt.Errorf("%w: invalid member id %d", types.ErrInvalidMembership, id)
		}
		if !slices.Contains(members, id) {
			members = append(members, id)
		}
	}
	slices.Sort(members)
	return members, nil
}

// storageError maps repository errors onto the domain taxonomy.
func storageError(op string, err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return types.ErrRoomNotFound
	}
	return fmt.Errorf("%w: %s: %v", types.ErrTransientStorage, op, err)
}
