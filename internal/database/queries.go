package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/npezzotti/roomchat/internal/types"
)

const (
	accountColumns = "id, username, email, password_hash, role, status, created_at, updated_at"

	roomSelect = "SELECT r.id, r.kind, r.name, r.creator_id, r.last_activity_at, r.created_at, " +
		"(SELECT array_agg(rm.account_id ORDER BY rm.account_id) FROM room_members rm WHERE rm.room_id = r.id) " +
		"FROM rooms r "

	messageSelect = "SELECT m.id, m.room_id, m.seq_id, m.sender_id, m.content, m.kind, m.attachments, m.created_at, " +
		"COALESCE((SELECT json_agg(json_build_object('user_id', rr.account_id, 'read_at', rr.read_at) " +
		"ORDER BY rr.read_at, rr.account_id) FROM read_receipts rr WHERE rr.message_id = m.id), '[]') " +
		"FROM messages m "
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var a Account
	err := row.Scan(
		&a.Id,
		&a.Username,
		&a.EmailAddress,
		&a.PasswordHash,
		&a.Role,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	return a, mapError(err)
}

func scanRoom(row rowScanner) (types.Room, error) {
	var (
		room    types.Room
		members pq.Int64Array
	)
	err := row.Scan(
		&room.Id,
		&room.Kind,
		&room.Name,
		&room.CreatorId,
		&room.LastActivityAt,
		&room.CreatedAt,
		&members,
	)
	if err != nil {
		return types.Room{}, mapError(err)
	}

	room.Members = make([]int, len(members))
	for i, m := range members {
		room.Members[i] = int(m)
	}

	return room, nil
}

func scanMessage(row rowScanner) (types.Message, error) {
	var (
		msg         types.Message
		attachments []byte
		receipts    []byte
	)
	err := row.Scan(
		&msg.Id,
		&msg.RoomId,
		&msg.SeqId,
		&msg.SenderId,
		&msg.Content,
		&msg.Kind,
		&attachments,
		&msg.CreatedAt,
		&receipts,
	)
	if err != nil {
		return types.Message{}, mapError(err)
	}

	if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
		return types.Message{}, fmt.Errorf("decode attachments: %w", err)
	}
	if err := json.Unmarshal(receipts, &msg.ReadBy); err != nil {
		return types.Message{}, fmt.Errorf("decode read receipts: %w", err)
	}

	return msg, nil
}

func (db *PgChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	role := params.Role
	if role == "" {
		role = types.RoleUser
	}

	now := time.Now().UTC()
	row := db.conn.QueryRowContext(
		ctx,
		"INSERT INTO accounts (username, email, password_hash, role, status, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING "+accountColumns,
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		role,
		types.StatusActive,
		now,
	)

	return scanAccount(row)
}

func (db *PgChatRepository) GetAccountById(ctx context.Context, id int) (Account, error) {
	row := db.conn.QueryRowContext(
		ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1 LIMIT 1",
		id,
	)

	return scanAccount(row)
}

func (db *PgChatRepository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	row := db.conn.QueryRowContext(
		ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE email = $1 LIMIT 1",
		email,
	)

	return scanAccount(row)
}

func (db *PgChatRepository) UpdateAccountStatus(ctx context.Context, id int, status types.AccountStatus) (Account, error) {
	row := db.conn.QueryRowContext(
		ctx,
		"UPDATE accounts SET status = $2, updated_at = $3 WHERE id = $1 RETURNING "+accountColumns,
		id,
		status,
		time.Now().UTC(),
	)

	return scanAccount(row)
}

func (db *PgChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (types.Room, error) {
	var pairKey sql.NullString
	if params.PairKey != "" {
		pairKey = sql.NullString{String: params.PairKey, Valid: true}
	}

	members := make(pq.Int64Array, len(params.Members))
	for i, m := range params.Members {
		members[i] = int64(m)
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx,
			"INSERT INTO rooms (id, kind, name, creator_id, pair_key, last_activity_at, created_at) "+
				"VALUES ($1, $2, $3, $4, $5, $6, $6)",
			params.Id,
			params.Kind,
			params.Name,
			params.CreatorId,
			pairKey,
			params.CreatedAt,
		)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(
			ctx,
			"INSERT INTO room_members (room_id, account_id) SELECT $1, unnest($2::int[])",
			params.Id,
			members,
		)
		return err
	})
	if err != nil {
		return types.Room{}, mapError(err)
	}

	return types.Room{
		Id:             params.Id,
		Kind:           params.Kind,
		Name:           params.Name,
		CreatorId:      params.CreatorId,
		Members:        SortedMembers(params.Members),
		LastActivityAt: params.CreatedAt,
		CreatedAt:      params.CreatedAt,
	}, nil
}

func (db *PgChatRepository) GetRoom(ctx context.Context, id string) (types.Room, error) {
	return scanRoom(db.conn.QueryRowContext(ctx, roomSelect+"WHERE r.id = $1", id))
}

func (db *PgChatRepository) GetDirectRoom(ctx context.Context, pairKey string) (types.Room, error) {
	return scanRoom(db.conn.QueryRowContext(ctx, roomSelect+"WHERE r.pair_key = $1", pairKey))
}

func (db *PgChatRepository) IsMember(ctx context.Context, roomId string, userId int) (bool, error) {
	var roomExists, isMember bool
	err := db.conn.QueryRowContext(
		ctx,
		"SELECT EXISTS (SELECT 1 FROM rooms WHERE id = $1), "+
			"EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND account_id = $2)",
		roomId,
		userId,
	).Scan(&roomExists, &isMember)
	if err != nil {
		return false, mapError(err)
	}

	if !roomExists {
		return false, ErrNotFound
	}

	return isMember, nil
}

func (db *PgChatRepository) ListRoomsForUser(ctx context.Context, userId int) ([]types.Room, error) {
	rows, err := db.conn.QueryContext(
		ctx,
		roomSelect+"JOIN room_members m ON m.room_id = r.id WHERE m.account_id = $1 "+
			"ORDER BY r.last_activity_at DESC, r.id",
		userId,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	rooms := []types.Room{}
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

// AppendMessage assigns the next room sequence number and bumps the room's
// activity timestamp in the same transaction as the insert. The room row lock
// serializes concurrent appends to one room.
func (db *PgChatRepository) AppendMessage(ctx context.Context, params AppendMessageParams) (types.Message, error) {
	attachments := params.Attachments
	if attachments == nil {
		attachments = []types.Attachment{}
	}
	rawAttachments, err := json.Marshal(attachments)
	if err != nil {
		return types.Message{}, fmt.Errorf("encode attachments: %w", err)
	}

	msg := types.Message{
		Id:          params.Id,
		RoomId:      params.RoomId,
		SenderId:    params.SenderId,
		Content:     params.Content,
		Kind:        params.Kind,
		Attachments: attachments,
		ReadBy:      []types.ReadReceipt{},
	}

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(
			ctx,
			"UPDATE rooms SET seq_id = seq_id + 1, last_activity_at = GREATEST(last_activity_at, $2) "+
				"WHERE id = $1 RETURNING seq_id, last_activity_at",
			params.RoomId,
			params.CreatedAt,
		).Scan(&msg.SeqId, &msg.CreatedAt)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(
			ctx,
			"INSERT INTO messages (id, room_id, seq_id, sender_id, content, kind, attachments, created_at) "+
				"VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
			msg.Id,
			msg.RoomId,
			msg.SeqId,
			msg.SenderId,
			msg.Content,
			msg.Kind,
			rawAttachments,
			msg.CreatedAt,
		)
		return err
	})
	if err != nil {
		return types.Message{}, mapError(err)
	}

	return msg, nil
}

// GetMessagePage reads the page and the count from one snapshot so Total
// agrees with the rows returned.
func (db *PgChatRepository) GetMessagePage(ctx context.Context, roomId string, limit, offset int) ([]types.Message, int, error) {
	if offset < 0 {
		offset = 0
	}

	tx, err := db.conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer tx.Rollback()

	var total int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE room_id = $1", roomId).Scan(&total)
	if err != nil {
		return nil, 0, mapError(err)
	}

	msgs := []types.Message{}
	if offset >= total {
		return msgs, total, nil
	}

	rows, err := tx.QueryContext(
		ctx,
		messageSelect+"WHERE m.room_id = $1 ORDER BY m.seq_id DESC LIMIT $2 OFFSET $3",
		roomId,
		limit,
		offset,
	)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return msgs, total, nil
}

func (db *PgChatRepository) GetMessage(ctx context.Context, id string) (types.Message, error) {
	return scanMessage(db.conn.QueryRowContext(ctx, messageSelect+"WHERE m.id = $1", id))
}

// AddReadReceipt records the first read of a message by userId and reports
// whether a receipt was added.
func (db *PgChatRepository) AddReadReceipt(ctx context.Context, messageId string, userId int, readAt time.Time) (bool, error) {
	res, err := db.conn.ExecContext(
		ctx,
		"INSERT INTO read_receipts (message_id, account_id, read_at) VALUES ($1, $2, $3) "+
			"ON CONFLICT (message_id, account_id) DO NOTHING",
		messageId,
		userId,
		readAt,
	)
	if err != nil {
		return false, mapError(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}
