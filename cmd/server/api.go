package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/db-monitor/pkg/auth"
	"github.com/db-monitor/pkg/storage"
	"github.com/db-monitor/pkg/target"
)

// Invalidator 目标增删后刷新 owner 级缓存
type Invalidator interface {
	Invalidate(ctx context.Context, owner string) error
}

// API owner 范围内的读写接口
type API struct {
	registry    storage.Registry
	series      storage.SeriesReader
	invalidator Invalidator
	lookback    time.Duration
	log         *zap.Logger
}

// NewAPI invalidator 可为 nil（未启用缓存）
func NewAPI(registry storage.Registry, series storage.SeriesReader, invalidator Invalidator, lookback time.Duration, logger *zap.Logger) *API {
	return &API{
		registry:    registry,
		series:      series,
		invalidator: invalidator,
		lookback:    lookback,
		log:         logger,
	}
}

// Register 挂载到已经过鉴权的子路由
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/metrics", a.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/databases", a.handleListDatabases).Methods(http.MethodGet)
	r.HandleFunc("/databases", a.handleAddDatabase).Methods(http.MethodPost)
	r.HandleFunc("/databases/{id}", a.handleDeleteDatabase).Methods(http.MethodDelete)
}

type databaseView struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	ConnectionString string `json:"connection_string"`
	DBType           string `json:"db_type"`
	IsActive         bool   `json:"is_active"`
}

type addDatabaseRequest struct {
	Name    string `json:"name"`
	DBType  string `json:"db_type"`
	ConnStr string `json:"conn_str"`
}

type messageResponse struct {
	Message string `json:"message"`
	ID      int    `json:"id,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func owner(r *http.Request) string {
	id, _ := auth.GetUserID(r.Context())
	return id
}

// handleMetrics 查询失败只记日志并返回空数组，图表按缺口展示
func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	user := owner(r)
	points, err := a.series.Series(r.Context(), user, a.lookback)
	if err != nil {
		a.log.Error("series query failed", zap.String("user_id", user), zap.Error(err))
		points = []target.AggregatedPoint{}
	}
	if points == nil {
		points = []target.AggregatedPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (a *API) handleListDatabases(w http.ResponseWriter, r *http.Request) {
	targets, err := a.registry.ListTargetsByOwner(r.Context(), owner(r))
	if err != nil {
		a.log.Error("list databases failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list databases")
		return
	}
	out := make([]databaseView, 0, len(targets))
	for _, t := range targets {
		out = append(out, databaseView{
			ID:               t.ID,
			Name:             t.Name,
			ConnectionString: t.DSN,
			DBType:           t.RawKind,
			IsActive:         t.Active,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleAddDatabase(w http.ResponseWriter, r *http.Request) {
	var req addDatabaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || strings.TrimSpace(req.ConnStr) == "" {
		writeError(w, http.StatusBadRequest, "name and conn_str are required")
		return
	}
	kind, err := target.ParseEngineKind(req.DBType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user := owner(r)
	id, err := a.registry.AddTarget(r.Context(), target.NewTarget{
		OwnerID: user,
		Name:    req.Name,
		Kind:    kind,
		DSN:     req.ConnStr,
	})
	switch {
	case errors.Is(err, storage.ErrDuplicateTarget):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		a.log.Error("register database failed", zap.String("db_name", req.Name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to register database")
		return
	}
	a.invalidate(r.Context(), user)
	a.log.Info("registered database", zap.Int("db_id", id), zap.String("db_name", req.Name), zap.String("db_type", kind.String()))
	writeJSON(w, http.StatusOK, messageResponse{Message: "Registered!", ID: id})
}

func (a *API) handleDeleteDatabase(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be an integer")
		return
	}
	user := owner(r)
	err = a.registry.DeleteTarget(r.Context(), id, user)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "database not found")
		return
	case err != nil:
		a.log.Error("delete database failed", zap.Int("db_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete database")
		return
	}
	a.invalidate(r.Context(), user)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Deleted"})
}

func (a *API) invalidate(ctx context.Context, user string) {
	if a.invalidator == nil {
		return
	}
	if err := a.invalidator.Invalidate(ctx, user); err != nil {
		a.log.Warn("series cache invalidation failed", zap.String("user_id", user), zap.Error(err))
	}
}
