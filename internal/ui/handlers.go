package ui

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/me/slotq/internal/config"
	"github.com/me/slotq/internal/engine"
	"github.com/me/slotq/pkg/model"
)

// defaultLookahead is the schedule page's preview window when the
// query string names none.
const defaultLookahead = 16

// UI serves the HTML operator dashboard.
type UI struct {
	engine    *engine.Engine
	config    config.ServerConfig
	sessions  *SessionManager
	logger    *slog.Logger
	startTime time.Time
	secure    bool // Use secure cookies (HTTPS)
}

// Config holds UI configuration.
type Config struct {
	Secure bool // Use secure cookies for HTTPS
}

// New creates a new UI handler.
func New(eng *engine.Engine, cfg config.ServerConfig, logger *slog.Logger, uiCfg Config) *UI {
	return &UI{
		engine:    eng,
		config:    cfg,
		sessions:  NewSessionManager(),
		logger:    logger.With("component", "ui"),
		startTime: time.Now(),
		secure:    uiCfg.Secure,
	}
}

// HandleLogin renders the login page.
func (ui *UI) HandleLogin(w http.ResponseWriter, r *http.Request) {
	// If already signed in, redirect to the dashboard.
	if sess := ui.sessions.GetSessionFromRequest(r); sess != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	data := map[string]any{
		"Title":          "Sign in - slotq",
		"Error":          r.URL.Query().Get("error"),
		"AllowAnonymous": ui.config.AllowAnonymous,
	}
	ui.render(w, "login", data)
}

// HandleLoginPost processes the login form. An API key resolves to its
// configured account; in anonymous mode a bare account address works.
func (ui *UI) HandleLoginPost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/login?error=Invalid+request", http.StatusSeeOther)
		return
	}

	apiKey := strings.TrimSpace(r.FormValue("api_key"))
	account := strings.TrimSpace(r.FormValue("account"))

	var caller model.Address
	switch {
	case apiKey != "":
		acct, ok := ui.config.APIKeys[apiKey]
		if !ok {
			ui.logger.Warn("dashboard sign-in failed", "reason", "unknown api key")
			http.Redirect(w, r, "/login?error=Unknown+API+key", http.StatusSeeOther)
			return
		}
		caller = model.Address(acct)
	case ui.config.AllowAnonymous && account != "":
		caller = model.Address(account)
	default:
		http.Redirect(w, r, "/login?error=API+key+required", http.StatusSeeOther)
		return
	}

	sess, err := ui.sessions.CreateSession(caller)
	if err != nil {
		ui.logger.Error("create session failed", "error", err)
		http.Redirect(w, r, "/login?error=Session+creation+failed", http.StatusSeeOther)
		return
	}
	SetSessionCookie(w, sess, ui.secure)

	ui.logger.Info("dashboard sign-in", "caller", caller, "session", sess.ID)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleLogout clears the session and redirects to login.
func (ui *UI) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if sess := ui.sessions.GetSessionFromRequest(r); sess != nil {
		ui.sessions.DeleteSession(sess.ID)
		ui.logger.Info("dashboard sign-out", "caller", sess.Caller, "session", sess.ID)
	}
	ClearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// HandleDashboard renders the operator overview.
func (ui *UI) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())

	total, pending, err := ui.engine.TaskCounts(r.Context())
	if err != nil {
		ui.renderError(w, "Failed to load task counts", err)
		return
	}

	recent, _, err := ui.engine.ListTasks(r.Context(), model.ListOptions{Limit: 5})
	if err != nil {
		ui.renderError(w, "Failed to load recent tasks", err)
		return
	}

	bal, err := ui.engine.Balance(r.Context(), sess.Caller)
	if err != nil {
		ui.renderError(w, "Failed to load balance", err)
		return
	}

	data := map[string]any{
		"Title":        "Dashboard - slotq",
		"Session":      sess,
		"CurrentSlot":  uint64(ui.engine.CurrentSlot()),
		"TotalTasks":   total,
		"PendingTasks": pending,
		"Balance":      bal,
		"RecentTasks":  recent,
		"Uptime":       time.Since(ui.startTime).Round(time.Second).String(),
	}
	ui.render(w, "dashboard", data)
}

// --- Task Handlers ---

// HandleTaskList renders the paginated task table.
func (ui *UI) HandleTaskList(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	opts := ui.parseListOptions(r)

	tasks, total, err := ui.engine.ListTasks(r.Context(), opts)
	if err != nil {
		ui.renderError(w, "Failed to load tasks", err)
		return
	}

	data := map[string]any{
		"Title":      "Tasks - slotq",
		"Session":    sess,
		"Tasks":      tasks,
		"Owner":      string(opts.Owner),
		"Pagination": ui.buildPagination(opts, total),
	}
	ui.render(w, "tasks/list", data)
}

// HandleTaskDetail renders a single task.
func (ui *UI) HandleTaskDetail(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	id := ui.pathParam(r, "id")

	task, err := ui.engine.GetTask(r.Context(), id)
	if err != nil {
		if model.IsCode(err, model.ErrNotFound) {
			ui.renderNotFound(w, "Task not found")
			return
		}
		ui.renderError(w, "Failed to load task", err)
		return
	}

	cancellers, err := ui.engine.ListTaskCancellers(r.Context(), id)
	if err != nil {
		ui.renderError(w, "Failed to load cancellers", err)
		return
	}

	canCancel := task.Active() && sess.Caller == task.Owner
	for _, c := range cancellers {
		if c == sess.Caller && task.Active() {
			canCancel = true
		}
	}

	data := map[string]any{
		"Title":      "Task " + task.ID + " - slotq",
		"Session":    sess,
		"Task":       task,
		"Cancellers": cancellers,
		"CanCancel":  canCancel,
	}
	ui.render(w, "tasks/detail", data)
}

// HandleTaskCancel cancels a pending task (HTMX).
func (ui *UI) HandleTaskCancel(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	id := ui.pathParam(r, "id")

	if err := ui.engine.Cancel(r.Context(), sess.Caller, id); err != nil {
		status := http.StatusInternalServerError
		switch model.CodeOf(err) {
		case model.ErrNotFound:
			status = http.StatusNotFound
		case model.ErrNotAuthorized:
			status = http.StatusForbidden
		case model.ErrTaskNotActive:
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	ui.logger.Info("task cancelled via dashboard", "task_id", id, "caller", sess.Caller)
	w.Header().Set("HX-Redirect", "/tasks/"+id)
	w.WriteHeader(http.StatusOK)
}

// --- Schedule Handler ---

// scheduleRow is one slot of the preview flattened for the template.
type scheduleRow struct {
	Slot  uint64
	Tiers []scheduleCell
}

type scheduleCell struct {
	Tier    model.Tier
	Pending uint64
	Quote   model.Fee
}

// HandleSchedule renders the slot-by-slot pricing preview.
func (ui *UI) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())

	lookahead := uint64(defaultLookahead)
	if v := r.URL.Query().Get("lookahead"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			lookahead = n
		}
	}

	rows, err := ui.engine.ScheduleInRange(r.Context(), lookahead)
	if err != nil {
		ui.renderError(w, "Failed to load schedule", err)
		return
	}

	view := make([]scheduleRow, len(rows))
	for i, row := range rows {
		cells := make([]scheduleCell, 0, model.TierCount)
		for _, tier := range model.Tiers() {
			cells = append(cells, scheduleCell{
				Tier:    tier,
				Pending: row.Pending[tier],
				Quote:   row.Quotes[tier],
			})
		}
		view[i] = scheduleRow{Slot: uint64(row.Slot), Tiers: cells}
	}

	data := map[string]any{
		"Title":       "Schedule - slotq",
		"Session":     sess,
		"Rows":        view,
		"Tiers":       model.Tiers(),
		"Lookahead":   lookahead,
		"CurrentSlot": uint64(ui.engine.CurrentSlot()),
	}
	ui.render(w, "schedule", data)
}

// --- Account Handlers ---

// HandleAccount renders the signed-in account's ledger position.
func (ui *UI) HandleAccount(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())

	bal, err := ui.engine.Balance(r.Context(), sess.Caller)
	if err != nil {
		ui.renderError(w, "Failed to load balance", err)
		return
	}

	data := map[string]any{
		"Title":   "Account - slotq",
		"Session": sess,
		"Balance": bal,
		"Error":   r.URL.Query().Get("error"),
	}
	ui.render(w, "account", data)
}

// HandleDepositPost credits the signed-in account from the deposit form.
func (ui *UI) HandleDepositPost(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())

	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/account?error=Invalid+request", http.StatusSeeOther)
		return
	}
	amount, err := strconv.ParseUint(strings.TrimSpace(r.FormValue("amount")), 10, 64)
	if err != nil || amount == 0 {
		http.Redirect(w, r, "/account?error=Amount+must+be+a+positive+integer", http.StatusSeeOther)
		return
	}

	if err := ui.engine.Deposit(r.Context(), sess.Caller, model.Fee(amount)); err != nil {
		ui.logger.Error("dashboard deposit failed", "caller", sess.Caller, "error", err)
		http.Redirect(w, r, "/account?error=Deposit+failed", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/account", http.StatusSeeOther)
}

// --- Helper Methods ---

func (ui *UI) parseListOptions(r *http.Request) model.ListOptions {
	opts := model.DefaultListOptions()

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	if owner := strings.TrimSpace(r.URL.Query().Get("owner")); owner != "" {
		opts.Owner = model.Address(owner)
	}

	opts.Clamp()
	return opts
}

func (ui *UI) buildPagination(opts model.ListOptions, total int) map[string]any {
	hasMore := opts.Offset+opts.Limit < total
	hasPrev := opts.Offset > 0

	return map[string]any{
		"Total":      total,
		"Limit":      opts.Limit,
		"Offset":     opts.Offset,
		"Owner":      string(opts.Owner),
		"HasMore":    hasMore,
		"HasPrev":    hasPrev,
		"NextOffset": opts.Offset + opts.Limit,
		"PrevOffset": max(0, opts.Offset-opts.Limit),
	}
}

func (ui *UI) pathParam(r *http.Request, name string) string {
	// Chi uses path value context.
	return r.PathValue(name)
}

func (ui *UI) render(w http.ResponseWriter, template string, data map[string]any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	var buf bytes.Buffer
	if err := renderTemplate(&buf, template, data); err != nil {
		ui.logger.Error("template render failed", "template", template, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

func (ui *UI) renderError(w http.ResponseWriter, message string, err error) {
	ui.logger.Error(message, "error", err)
	data := map[string]any{
		"Title":   "Error - slotq",
		"Message": message,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	var buf bytes.Buffer
	if rerr := renderTemplate(&buf, "error", data); rerr != nil {
		ui.logger.Error("template render failed", "template", "error", "error", rerr)
		return
	}
	buf.WriteTo(w)
}

func (ui *UI) renderNotFound(w http.ResponseWriter, message string) {
	data := map[string]any{
		"Title":   "Not Found - slotq",
		"Message": message,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	var buf bytes.Buffer
	if err := renderTemplate(&buf, "error", data); err != nil {
		ui.logger.Error("template render failed", "template", "error", "error", err)
		return
	}
	buf.WriteTo(w)
}
