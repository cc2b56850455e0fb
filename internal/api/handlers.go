package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/roomchat/internal/database"
	"github.com/npezzotti/roomchat/internal/membership"
	"github.com/npezzotti/roomchat/internal/server"
	"github.com/npezzotti/roomchat/internal/types"
)

type CreateRoomRequest struct {
	Kind      types.RoomKind `json:"kind"`
	Name      string         `json:"name"`
	MemberIds []int          `json:"member_ids"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *GoChatApp) writeError(w http.ResponseWriter, op string, err error) {
	errResp := errorFor(err)
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Printf("%s: %v", op, err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.storageTimeout)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.log.Printf("health check: %v", err)
		s.writeJson(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *GoChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, created, err := s.members.CreateRoom(r.Context(), membership.CreateRoomParams{
		CreatorId: userId,
		Kind:      req.Kind,
		Name:      req.Name,
		MemberIds: req.MemberIds,
	})
	if err != nil {
		s.writeError(w, "create room", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJson(w, status, room)
}

func (s *GoChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rooms, err := s.members.ListRoomsFor(r.Context(), userId)
	if err != nil {
		s.writeError(w, "list rooms", err)
		return
	}
	if rooms == nil {
		rooms = []types.Room{}
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *GoChatApp) getRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.members.GetRoom(r.Context(), r.PathValue("id"), userId)
	if err != nil {
		s.writeError(w, "get room", err)
		return
	}

	s.writeJson(w, http.StatusOK, room)
}

func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var page, limit int
	var err error

	pageStr := r.URL.Query().Get("page")
	if pageStr != "" {
		page, err = strconv.Atoi(pageStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	limitStr := r.URL.Query().Get("limit")
	if limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	history, err := s.messages.History(r.Context(), r.PathValue("id"), userId, page, limit)
	if err != nil {
		s.writeError(w, "get messages", err)
		return
	}

	s.writeJson(w, http.StatusOK, history)
}

func (s *GoChatApp) markRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, added, err := s.messages.MarkRead(r.Context(), r.PathValue("id"), userId)
	if err != nil {
		s.writeError(w, "mark read", err)
		return
	}

	if added {
		idx := slices.IndexFunc(msg.ReadBy, func(rr types.ReadReceipt) bool { return rr.UserId == userId })
		if idx >= 0 {
			s.cs.Publish(msg.RoomId, server.ReadReceipt(msg.RoomId, msg.Id, userId, msg.ReadBy[idx].ReadAt))
		}
	}

	s.writeJson(w, http.StatusOK, msg)
}

// deactivateAccount disables an account, revokes its refresh tokens and
// closes its live sessions.
func (s *GoChatApp) deactivateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	account, err := s.db.UpdateAccountStatus(r.Context(), id, types.StatusInactive)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.verifier.Tokens().RevokeAll(r.Context(), id); err != nil {
		s.log.Printf("revoke tokens for account %d: %v", id, err)
	}
	closed := s.cs.DisconnectUser(id)
	s.log.Printf("deactivated account %d, closed %d sessions", id, closed)

	s.writeJson(w, http.StatusOK, account.User())
}

func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	principal, err := s.verifier.Verify(r.Context(), wsToken(r))
	if err != nil {
		s.log.Printf("ws: verify token: %v", err)
		errResp := errorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	session, err := s.cs.Attach(principal, conn)
	if err != nil {
		s.log.Printf("ws: attach: %v", err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		conn.Close()
		return
	}

	go session.Write()
	go session.Read()
}
