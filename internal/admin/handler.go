// AngelaMos | 2026
// handler.go

package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/carterperez-dev/goldsave/internal/auth"
	"github.com/carterperez-dev/goldsave/internal/core"
	"github.com/carterperez-dev/goldsave/internal/middleware"
	"github.com/carterperez-dev/goldsave/internal/user"
)

type UserManager interface {
	ListUsers(ctx context.Context, params user.ListUsersParams) ([]user.User, int, error)
	GetUser(ctx context.Context, id string) (*user.User, error)
	UpdateUserRole(ctx context.Context, requesterID, targetID, role string) (*user.User, error)
	Deactivate(ctx context.Context, requesterID, targetID string) (*user.StatusChange, error)
	Activate(ctx context.Context, targetID string) (*user.StatusChange, error)
	DeleteUser(ctx context.Context, requesterID, targetID string) error
	Counts(ctx context.Context) (user.Counts, error)
}

type SessionManager interface {
	ListSessions(ctx context.Context, userID string) ([]auth.SessionInfo, error)
	RevokeSession(ctx context.Context, callerID, sessionID string, override bool) error
}

type Handler struct {
	dbStats    func() sql.DBStats
	redisStats func() *redis.PoolStats
	redisPing  func(ctx context.Context) error
	dbPing     func(ctx context.Context) error
	users      UserManager
	sessions   SessionManager
	validator  *validator.Validate
}

type HandlerConfig struct {
	DBStats    func() sql.DBStats
	RedisStats func() *redis.PoolStats
	RedisPing  func(ctx context.Context) error
	DBPing     func(ctx context.Context) error
	Users      UserManager
	Sessions   SessionManager
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		dbStats:    cfg.DBStats,
		redisStats: cfg.RedisStats,
		redisPing:  cfg.RedisPing,
		dbPing:     cfg.DBPing,
		users:      cfg.Users,
		sessions:   cfg.Sessions,
		validator:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator, adminOnly func(http.Handler) http.Handler,
) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(authenticator)
		r.Use(adminOnly)

		r.Get("/stats", h.GetSystemStats)
		r.Get("/stats/db", h.GetDatabaseStats)
		r.Get("/stats/redis", h.GetRedisStats)
		r.Get("/stats/runtime", h.GetRuntimeStats)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Get("/{userID}", h.GetUser)
			r.Delete("/{userID}", h.DeleteUser)
			r.Put("/{userID}/role", h.UpdateUserRole)
			r.Post("/{userID}/deactivate", h.DeactivateUser)
			r.Post("/{userID}/activate", h.ActivateUser)
			r.Get("/{userID}/sessions", h.ListUserSessions)
		})

		r.Delete("/sessions/{sessionID}", h.RevokeSession)
	})
}

// ListUsers returns a page of users filtered by search, role and active.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := user.ListUsersParams{
		Page:     parseIntQuery(r, "page", 1),
		PageSize: parseIntQuery(r, "page_size", 20),
		Search:   q.Get("search"),
		Role:     q.Get("role"),
	}
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			core.BadRequest(w, "active must be true or false")
			return
		}
		params.Active = &active
	}
	params.Normalize()

	users, total, err := h.users.ListUsers(r.Context(), params)
	if err != nil {
		user.WriteError(w, err)
		return
	}

	core.Paginated(
		w,
		user.ToUserResponseList(users),
		params.Page,
		params.PageSize,
		total,
	)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		user.WriteError(w, err)
		return
	}

	core.OK(w, user.ToUserResponse(u))
}

func (h *Handler) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	var req user.UpdateUserRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	u, err := h.users.UpdateUserRole(
		r.Context(),
		middleware.GetUserID(r.Context()),
		chi.URLParam(r, "userID"),
		req.Role,
	)
	if err != nil {
		user.WriteError(w, err)
		return
	}

	core.OK(w, user.ToUserResponse(u))
}

// DeactivateUser marks the user inactive and revokes every usable session.
func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	change, err := h.users.Deactivate(
		r.Context(),
		middleware.GetUserID(r.Context()),
		chi.URLParam(r, "userID"),
	)
	if err != nil {
		user.WriteError(w, err)
		return
	}

	core.OK(w, change)
}

func (h *Handler) ActivateUser(w http.ResponseWriter, r *http.Request) {
	change, err := h.users.Activate(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		user.WriteError(w, err)
		return
	}

	core.OK(w, change)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	err := h.users.DeleteUser(
		r.Context(),
		middleware.GetUserID(r.Context()),
		chi.URLParam(r, "userID"),
	)
	if err != nil {
		user.WriteError(w, err)
		return
	}

	core.NoContent(w)
}

func (h *Handler) ListUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	if _, err := h.users.GetUser(r.Context(), userID); err != nil {
		user.WriteError(w, err)
		return
	}

	sessions, err := h.sessions.ListSessions(r.Context(), userID)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	core.OK(w, auth.SessionsResponse{Sessions: sessions})
}

// RevokeSession ends any user's session.
func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	err := h.sessions.RevokeSession(
		r.Context(),
		middleware.GetUserID(r.Context()),
		chi.URLParam(r, "sessionID"),
		true,
	)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	core.NoContent(w)
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		core.NotFound(w, "session")
	case errors.Is(err, core.ErrUnavailable):
		core.ServiceUnavailable(w)
	default:
		core.InternalServerError(w, err)
	}
}

func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}

	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}

	return parsed
}
