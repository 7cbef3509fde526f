package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nhirsama/goster-zk/src/inter"
)

const (
	defaultUnlockSeconds = 3
	maxUnlockSeconds     = 60
	defaultRunLimit      = 20
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// errorStatus 将领域错误映射为 HTTP 状态码
func errorStatus(err error) int {
	switch {
	case errors.Is(err, inter.ErrTerminalUnknown), errors.Is(err, inter.ErrTerminalNotFound):
		return http.StatusNotFound
	case errors.Is(err, inter.ErrNetwork), errors.Is(err, inter.ErrResponse), errors.Is(err, inter.ErrTransfer):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type TerminalView struct {
	inter.TerminalRecord
	Status  string         `json:"status"`
	LastRun *inter.SyncRun `json:"last_run,omitempty"`
}

func (ws *webServer) terminalListHandler(w http.ResponseWriter, r *http.Request) {
	configs := ws.deviceManager.Terminals()
	views := make([]TerminalView, 0, len(configs))
	for _, cfg := range configs {
		rec, err := ws.dataStore.LoadTerminal(cfg.Name)
		if err != nil && !errors.Is(err, inter.ErrTerminalNotFound) {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		rec.Name, rec.Host, rec.Port = cfg.Name, cfg.Host, cfg.Port

		status, _ := ws.deviceManager.QueryDeviceStatus(cfg.Name)
		view := TerminalView{TerminalRecord: rec, Status: status.String()}
		if runs, err := ws.dataStore.ListSyncRuns(cfg.Name, 1); err == nil && len(runs) > 0 {
			view.LastRun = &runs[0]
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

// terminal 校验路径中的终端名称
func (ws *webServer) terminal(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.PathValue("name")
	for _, cfg := range ws.deviceManager.Terminals() {
		if cfg.Name == name {
			return name, true
		}
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", inter.ErrTerminalUnknown, name))
	return "", false
}

// UserView 不对外暴露终端上的口令
type UserView struct {
	UID       uint16 `json:"uid"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Privilege uint8  `json:"privilege"`
	Disabled  bool   `json:"disabled"`
	GroupID   string `json:"group_id"`
	Card      uint32 `json:"card"`
}

func (ws *webServer) userListHandler(w http.ResponseWriter, r *http.Request) {
	name, ok := ws.terminal(w, r)
	if !ok {
		return
	}
	users, err := ws.dataStore.ListUsers(name)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	views := make([]UserView, 0, len(users))
	for _, u := range users {
		views = append(views, UserView{
			UID:       u.UID,
			UserID:    u.UserID,
			Name:      u.Name,
			Privilege: u.Role(),
			Disabled:  u.Disabled(),
			GroupID:   u.GroupID,
			Card:      u.Card,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type AttendanceView struct {
	UserID    string    `json:"user_id"`
	UID       uint16    `json:"uid"`
	Timestamp time.Time `json:"timestamp"`
	Status    uint8     `json:"status"`
	Punch     uint8     `json:"punch"`
}

// parseTime 支持 RFC3339 与 2006-01-02 (本地时区)
func parseTime(v string, def time.Time) (time.Time, error) {
	if v == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, v, time.Local)
}

// attendanceHandler 默认返回当天的记录；to 为日期时包含当天全天
func (ws *webServer) attendanceHandler(w http.ResponseWriter, r *http.Request) {
	name, ok := ws.terminal(w, r)
	if !ok {
		return
	}

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"), today)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("from: %w", err))
		return
	}
	to, err := parseTime(q.Get("to"), now)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("to: %w", err))
		return
	}
	if len(q.Get("to")) == len(time.DateOnly) {
		to = to.Add(24*time.Hour - time.Second)
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, errors.New("to 早于 from"))
		return
	}

	records, err := ws.dataStore.QueryAttendance(name, from, to)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	views := make([]AttendanceView, 0, len(records))
	for _, a := range records {
		views = append(views, AttendanceView(a))
	}
	writeJSON(w, http.StatusOK, views)
}

func (ws *webServer) syncRunsHandler(w http.ResponseWriter, r *http.Request) {
	name, ok := ws.terminal(w, r)
	if !ok {
		return
	}
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit 无效: %q", v))
			return
		}
		limit = n
	}
	runs, err := ws.dataStore.ListSyncRuns(name, limit)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	if runs == nil {
		runs = []inter.SyncRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// unlockHandler 开门指令进入队列，在下一次会话中执行
func (ws *webServer) unlockHandler(w http.ResponseWriter, r *http.Request) {
	name, ok := ws.terminal(w, r)
	if !ok {
		return
	}
	seconds := defaultUnlockSeconds
	if v := r.URL.Query().Get("seconds"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxUnlockSeconds {
			writeError(w, http.StatusBadRequest, fmt.Errorf("seconds 需在 1 到 %d 之间", maxUnlockSeconds))
			return
		}
		seconds = n
	}

	msg := inter.DownlinkMessage{Kind: inter.CommandUnlock, Seconds: seconds}
	if err := ws.deviceManager.QueuePush(name, msg); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

// syncHandler 立即同步，阻塞到会话结束
func (ws *webServer) syncHandler(w http.ResponseWriter, r *http.Request) {
	name, ok := ws.terminal(w, r)
	if !ok {
		return
	}
	run, err := ws.deviceManager.SyncTerminal(r.Context(), name)
	if err != nil {
		ws.log.WithError(err).WithField("terminal", name).Warn("Web: 手动同步失败")
		if run.ID == "" {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, errorStatus(err), run)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
