package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rcliao/avatar-memory/internal/memory"
	"github.com/rcliao/avatar-memory/internal/model"
	"github.com/rcliao/avatar-memory/internal/rolling"
	"github.com/rcliao/avatar-memory/internal/trace"
)

type MemoryHandler struct {
	svc      *memory.Service
	states   rolling.StateStore
	recorder trace.Recorder
}

// NewMemoryHandler builds the handler. states and recorder may be nil, in
// which case their endpoints report not found.
func NewMemoryHandler(svc *memory.Service, states rolling.StateStore, recorder trace.Recorder) *MemoryHandler {
	if recorder == nil {
		recorder = trace.Nop{}
	}
	return &MemoryHandler{svc: svc, states: states, recorder: recorder}
}

type deleteResponse struct {
	OK bool `json:"ok"`
	*memory.DeleteResult
}

type stateResponse struct {
	Namespace string `json:"namespace"`
	*model.RollingState
}

func HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// POST /avatar/memory/insert
func (h *MemoryHandler) Insert(c *gin.Context) {
	var req memory.InsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, CodeBadRequest, err)
		return
	}
	res, err := h.svc.Insert(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, res)
}

// POST /avatar/memory/delete/by-file
func (h *MemoryHandler) DeleteByFile(c *gin.Context) {
	var req memory.DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, CodeBadRequest, err)
		return
	}
	res, err := h.svc.DeleteByFile(c.Request.Context(), req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, deleteResponse{OK: true, DeleteResult: res})
}

// GET /avatar/memory/debug/last-insert
func (h *MemoryHandler) LastInsert(c *gin.Context) {
	snap, err := h.recorder.Last(c.Request.Context())
	if errors.Is(err, trace.ErrNoTrace) {
		RespondError(c, http.StatusNotFound, CodeNotFound, err)
		return
	}
	if err != nil {
		_ = c.Error(err)
		RespondError(c, http.StatusInternalServerError, CodeInternal, err)
		return
	}
	RespondOK(c, snap)
}

// GET /avatar/memory/state?user_id=&avatar_id=
func (h *MemoryHandler) State(c *gin.Context) {
	userID, avatarID := c.Query("user_id"), c.Query("avatar_id")
	if userID == "" || avatarID == "" {
		RespondError(c, http.StatusBadRequest, CodeBadRequest, memory.ErrMissingIdentifiers)
		return
	}
	if h.states == nil {
		RespondError(c, http.StatusNotFound, CodeNotFound, errors.New("rolling state is not configured"))
		return
	}
	ns := model.Namespace(userID, avatarID)
	st, err := h.states.Load(c.Request.Context(), ns)
	if err != nil {
		_ = c.Error(err)
		RespondError(c, http.StatusInternalServerError, CodeInternal, err)
		return
	}
	RespondOK(c, stateResponse{Namespace: ns, RollingState: st})
}

func respondServiceError(c *gin.Context, err error) {
	_ = c.Error(err)
	var werr *memory.StoreWriteError
	switch {
	case memory.IsClientError(err):
		RespondError(c, http.StatusBadRequest, CodeBadRequest, err)
	case errors.As(err, &werr):
		RespondError(c, http.StatusInternalServerError, CodeStoreWrite, err)
	default:
		RespondError(c, http.StatusInternalServerError, CodeInternal, err)
	}
}
