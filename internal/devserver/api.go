package devserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/live"
	"github.com/matheus3301/chatsync/internal/live/wsconn"
	"github.com/matheus3301/chatsync/internal/store"
)

// API implements the chat REST endpoints and the websocket live endpoint.
type API struct {
	db     *store.DB
	broker *Broker
	log    *zap.Logger
}

// NewAPI creates the handlers.
func NewAPI(db *store.DB, broker *Broker, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{db: db, broker: broker, log: log}
}

func writeJSON(w http.ResponseWriter, status int, env backend.Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeOK(w http.ResponseWriter, env backend.Envelope) {
	env.Success = true
	writeJSON(w, http.StatusOK, env)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, backend.Envelope{Success: false, Message: msg})
}

func (a *API) internal(w http.ResponseWriter, op string, err error) {
	a.log.Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "서버 오류가 발생했습니다")
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "잘못된 요청입니다")
		return 0, false
	}
	return id, true
}

// authorizeRoom writes 404 or 403 and returns false unless the caller
// belongs to roomID.
func (a *API) authorizeRoom(w http.ResponseWriter, r *http.Request, roomID int64) bool {
	ok, err := a.db.CanAccess(roomID, MemberFrom(r.Context()))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "채팅방을 찾을 수 없습니다")
		return false
	case err != nil:
		a.internal(w, "room access check", err)
		return false
	case !ok:
		writeError(w, http.StatusForbidden, "접근 권한이 없습니다")
		return false
	}
	return true
}

// message loads messageID and checks the caller belongs to its room.
func (a *API) message(w http.ResponseWriter, r *http.Request) (*chat.Message, bool) {
	id, ok := idParam(w, r, "message")
	if !ok {
		return nil, false
	}
	m, err := a.db.GetMessage(id)
	if err != nil {
		a.internal(w, "load message", err)
		return nil, false
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "메시지를 찾을 수 없습니다")
		return nil, false
	}
	if !a.authorizeRoom(w, r, m.RoomID) {
		return nil, false
	}
	return m, true
}

func (a *API) MemberInfo(w http.ResponseWriter, r *http.Request) {
	writeOK(w, backend.Envelope{MemberID: MemberFrom(r.Context())})
}

func (a *API) ListRooms(w http.ResponseWriter, r *http.Request) {
	me := MemberFrom(r.Context())
	rooms, err := a.db.ListRooms(me)
	if err != nil {
		a.internal(w, "list rooms", err)
		return
	}
	for i := range rooms {
		rooms[i].Name = rooms[i].DisplayName(me)
	}
	writeOK(w, backend.Envelope{Rooms: rooms})
}

type createRoomRequest struct {
	TrainerID int64 `json:"trainer_idx"`
	MemberID  int64 `json:"user_idx"`
}

func (a *API) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TrainerID <= 0 || req.MemberID <= 0 || req.TrainerID == req.MemberID {
		writeError(w, http.StatusBadRequest, "잘못된 요청입니다")
		return
	}
	me := MemberFrom(r.Context())
	if me != req.TrainerID && me != req.MemberID {
		writeError(w, http.StatusForbidden, "접근 권한이 없습니다")
		return
	}
	room, err := a.db.EnsureRoom(req.TrainerID, req.MemberID)
	if err != nil {
		a.internal(w, "create room", err)
		return
	}
	room.Name = room.DisplayName(me)
	writeOK(w, backend.Envelope{Rooms: []chat.Room{room}})
}

func (a *API) UnreadCount(w http.ResponseWriter, r *http.Request) {
	roomID, ok := idParam(w, r, "room")
	if !ok || !a.authorizeRoom(w, r, roomID) {
		return
	}
	n, err := a.db.UnreadCount(roomID, MemberFrom(r.Context()))
	if err != nil {
		a.internal(w, "unread count", err)
		return
	}
	writeOK(w, backend.Envelope{UnreadCount: &n})
}

func (a *API) History(w http.ResponseWriter, r *http.Request) {
	roomID, ok := idParam(w, r, "room")
	if !ok || !a.authorizeRoom(w, r, roomID) {
		return
	}
	msgs, err := a.db.ListMessages(roomID)
	if err != nil {
		a.internal(w, "list messages", err)
		return
	}
	writeOK(w, backend.Envelope{Messages: msgs})
}

func (a *API) GetAttachment(w http.ResponseWriter, r *http.Request) {
	m, ok := a.message(w, r)
	if !ok {
		return
	}
	att, err := a.db.GetAttachment(m.ID)
	if err != nil {
		a.internal(w, "load attachment", err)
		return
	}
	if att == nil {
		writeError(w, http.StatusNotFound, "첨부파일이 없습니다")
		return
	}
	writeOK(w, backend.Envelope{Attachment: att})
}

func (a *API) PutAttachment(w http.ResponseWriter, r *http.Request) {
	m, ok := a.message(w, r)
	if !ok {
		return
	}
	if m.SenderID != MemberFrom(r.Context()) {
		writeError(w, http.StatusForbidden, "본인 메시지에만 첨부할 수 있습니다")
		return
	}
	var att chat.Attachment
	if err := json.NewDecoder(r.Body).Decode(&att); err != nil || strings.TrimSpace(att.URL) == "" {
		writeError(w, http.StatusBadRequest, "잘못된 요청입니다")
		return
	}
	stored, err := a.db.PutAttachment(m.ID, att)
	if err != nil {
		a.internal(w, "store attachment", err)
		return
	}
	if updated, err := a.db.GetMessage(m.ID); err == nil && updated != nil {
		if err := a.broker.Broadcast(r.Context(), live.Frame{Type: live.FrameMessage, RoomID: updated.RoomID, Message: updated}); err != nil {
			a.log.Warn("broadcast attachment", zap.Error(err))
		}
	}
	writeOK(w, backend.Envelope{Attachment: &stored})
}

func (a *API) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "message")
	if !ok {
		return
	}
	err := a.db.DeleteMessage(id, MemberFrom(r.Context()))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "메시지를 찾을 수 없습니다")
	case errors.Is(err, store.ErrNotOwner):
		writeError(w, http.StatusForbidden, "본인 메시지만 삭제할 수 있습니다")
	case err != nil:
		a.internal(w, "delete message", err)
	default:
		writeOK(w, backend.Envelope{Message: "삭제되었습니다"})
	}
}

func (a *API) Report(w http.ResponseWriter, r *http.Request) {
	m, ok := a.message(w, r)
	if !ok {
		return
	}
	var req backend.ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ReportContent) == "" {
		writeError(w, http.StatusBadRequest, "신고 사유를 입력해 주세요")
		return
	}
	err := a.db.Report(m.ID, MemberFrom(r.Context()), req.ReportContent)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusBadRequest, "이미 신고한 메시지입니다")
	case err != nil:
		a.internal(w, "report message", err)
	default:
		writeOK(w, backend.Envelope{Message: "신고가 접수되었습니다"})
	}
}

// Live upgrades to a websocket and serves it until the client leaves.
func (a *API) Live(w http.ResponseWriter, r *http.Request) {
	ws, err := wsconn.Upgrader().Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	if err := a.broker.Serve(r.Context(), MemberFrom(r.Context()), wsconn.Wrap(ws)); err != nil {
		a.log.Debug("websocket closed", zap.Error(err))
	}
}

// Health reports whether the database answers.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	if err := a.db.PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeOK(w, backend.Envelope{Message: "ok"})
}
