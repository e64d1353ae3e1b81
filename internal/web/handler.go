package web

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/stellarlink/agentfleet/internal/state"
)

//go:embed templates/*
var templatesFS embed.FS

// Handler serves the fleet dashboard and its JSON API.
type Handler struct {
	watcher   *StateWatcher
	templates *template.Template
	log       *zap.Logger
}

// NewHandler creates a web handler backed by a state watcher.
func NewHandler(watcher *StateWatcher, logger *zap.Logger) (*Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"statusColor": statusColor,
		"since":       since,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Handler{watcher: watcher, templates: tmpl, log: logger}, nil
}

// RegisterRoutes registers dashboard routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/", h.handleDashboard).Methods("GET")
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/api/status", h.handleStatus).Methods("GET")
	r.HandleFunc("/api/agents", h.handleAgents).Methods("GET")
	r.HandleFunc("/api/tasks", h.handleTasks).Methods("GET")
	r.HandleFunc("/api/findings", h.handleFindings).Methods("GET")
}

// dashboardData is the template payload.
type dashboardData struct {
	Agents    map[string]*state.Agent
	Tasks     []*state.Task
	Findings  []*state.Finding
	Pending   int
	Active    int
	Completed int
	SavedAt   time.Time
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	snap := h.watcher.Snapshot()

	data := dashboardData{
		Agents:   snap.Agents,
		Tasks:    snap.TaskQueue,
		Findings: snap.AuditFindings,
		SavedAt:  snap.SavedAt,
	}
	for _, t := range snap.TaskQueue {
		switch t.Status {
		case state.TaskPending:
			data.Pending++
		case state.TaskInProgress:
			data.Active++
		case state.TaskCompleted:
			data.Completed++
		}
	}

	if err := h.templates.ExecuteTemplate(w, "dashboard.html", data); err != nil {
		h.log.Error("render dashboard", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.watcher.Snapshot()

	counts := map[string]int{}
	for _, t := range snap.TaskQueue {
		counts[string(t.Status)]++
	}
	writeJSON(w, map[string]any{
		"agents":   len(snap.Agents),
		"tasks":    counts,
		"findings": len(snap.AuditFindings),
		"saved_at": snap.SavedAt,
	})
}

func (h *Handler) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.watcher.Snapshot().Agents)
}

func (h *Handler) handleTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.watcher.Snapshot().TaskQueue
	if tasks == nil {
		tasks = []*state.Task{}
	}
	writeJSON(w, tasks)
}

func (h *Handler) handleFindings(w http.ResponseWriter, r *http.Request) {
	findings := h.watcher.Snapshot().AuditFindings
	if findings == nil {
		findings = []*state.Finding{}
	}
	writeJSON(w, findings)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func statusColor(status string) string {
	switch status {
	case "pending":
		return "#6c757d"
	case "in_progress", "active", "busy":
		return "#0d6efd"
	case "completed":
		return "#198754"
	case "failed":
		return "#dc3545"
	default:
		return "#6c757d"
	}
}

func since(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return time.Since(t).Round(time.Second).String()
}
