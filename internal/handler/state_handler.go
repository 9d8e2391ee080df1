// Package handler はHTTPハンドラを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"sql-migration-tool/internal/domain"
	"sql-migration-tool/pkg/httputil"
)

// StateReader はマイグレーション状況を取得するインターフェース。
type StateReader interface {
	State(ctx context.Context) (*domain.State, error)
}

// BackupLister はバックアップ一覧を取得するインターフェース。
type BackupLister interface {
	ListArtifacts(ctx context.Context) ([]domain.BackupArtifact, error)
}

// Pinger はデータベースの疎通確認のインターフェース。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// StateHandler は読み取り専用のステータスAPIを提供する。
type StateHandler struct {
	state   StateReader
	backups BackupLister
	db      Pinger
}

// NewStateHandler は新しいStateHandlerを生成する。
func NewStateHandler(state StateReader, backups BackupLister, db Pinger) *StateHandler {
	return &StateHandler{state: state, backups: backups, db: db}
}

// StateResponse はマイグレーション状況のレスポンス形式。
type StateResponse struct {
	SourceDir string   `json:"source_dir"`
	Applied   []string `json:"applied"`
	Pending   []string `json:"pending"`
	UpToDate  bool     `json:"up_to_date"`
}

// BackupResponse はバックアップのレスポンス形式。
type BackupResponse struct {
	Number    int    `json:"number"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	Sealed    bool   `json:"sealed"`
}

// BackupListResponse はバックアップ一覧のレスポンス形式。
type BackupListResponse struct {
	Backups []BackupResponse `json:"backups"`
}

// GetState は適用済み・未適用のファイル一覧を返す。
func (h *StateHandler) GetState(w http.ResponseWriter, r *http.Request) {
	state, err := h.state.State(r.Context())
	if err != nil {
		writeServiceError(w, r, "get_state", err)
		return
	}

	applied, pending := state.Applied, state.Pending
	if applied == nil {
		applied = []string{}
	}
	if pending == nil {
		pending = []string{}
	}
	httputil.JSON(w, http.StatusOK, StateResponse{
		SourceDir: state.SourceDir,
		Applied:   applied,
		Pending:   pending,
		UpToDate:  len(pending) == 0,
	})
}

// ListBackups はバックアップ一覧を復元時の選択番号付きで返す。
func (h *StateHandler) ListBackups(w http.ResponseWriter, r *http.Request) {
	artifacts, err := h.backups.ListArtifacts(r.Context())
	if err != nil {
		writeServiceError(w, r, "list_backups", err)
		return
	}

	resp := BackupListResponse{Backups: make([]BackupResponse, 0, len(artifacts))}
	for i, a := range artifacts {
		resp.Backups = append(resp.Backups, BackupResponse{
			Number:    i + 1,
			Name:      a.Name,
			CreatedAt: a.CreatedAt.Format(time.RFC3339),
			Sealed:    a.Sealed,
		})
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// Health はデータベースへの疎通を確認する。
func (h *StateHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		slog.WarnContext(ctx, "health check failed", "error", err)
		httputil.Error(w, http.StatusServiceUnavailable, "DATABASE_UNAVAILABLE", "database is unreachable")
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	slog.ErrorContext(r.Context(), "request failed",
		"operation", operation,
		"error", err,
	)
	switch {
	case errors.Is(err, domain.ErrLedgerMissing):
		httputil.Error(w, http.StatusConflict, "LEDGER_MISSING", "ledger table does not exist in a non-empty database")
	case errors.Is(err, domain.ErrStorage):
		httputil.Error(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "database is unreachable")
	case errors.Is(err, domain.ErrConfiguration):
		httputil.Error(w, http.StatusInternalServerError, "CONFIGURATION_ERROR", "directory configuration is invalid")
	default:
		httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
