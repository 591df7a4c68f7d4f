package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"clinicdesk/internal/blob"
	"clinicdesk/internal/models"
	"clinicdesk/internal/queue"
	"clinicdesk/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store    store.VisitStore
	uploader blob.Uploader
	opts     Options
}

type Options struct {
	ChatHistoryLimit int
	UploadMaxBytes   int64
}

func NewHandler(visitStore store.VisitStore, uploader blob.Uploader, opts Options) *Handler {
	if opts.ChatHistoryLimit <= 0 {
		opts.ChatHistoryLimit = 100
	}
	if opts.UploadMaxBytes <= 0 {
		opts.UploadMaxBytes = 5 << 20
	}
	return &Handler{store: visitStore, uploader: uploader, opts: opts}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/visits", h.handleVisits)
	mux.HandleFunc("/api/visits/snapshot", h.handleSnapshot)
	mux.HandleFunc("/api/visits/", h.handleVisitSubtree)
	mux.HandleFunc("/api/stats/daily", h.handleDailyStats)
	mux.HandleFunc("/api/settings", h.handleSettings)
	mux.HandleFunc("/api/chat", h.handleChat)
	mux.HandleFunc("/api/uploads", h.handleUpload)
	return mux
}

type createVisitRequest struct {
	RequestID           string `json:"request_id"`
	Name                string `json:"name"`
	Phone               string `json:"phone"`
	Reason              string `json:"reason"`
	Age                 int    `json:"age"`
	ShowDetailsToPublic bool   `json:"show_details_to_public"`
}

type visitActionRequest struct {
	RequestID        string            `json:"request_id"`
	EvictAction      string            `json:"evict_action"`
	RequiredAmount   int64             `json:"required_amount"`
	ServicesRendered []string          `json:"services_rendered"`
	CustomLineItems  []models.LineItem `json:"custom_line_items"`
	AmountPaid       int64             `json:"amount_paid"`
}

type reorderRequest struct {
	RequestID     string `json:"request_id"`
	TargetVisitID string `json:"target_visit_id"`
}

type updateVisitRequest struct {
	Name                *string `json:"name"`
	Phone               *string `json:"phone"`
	Reason              *string `json:"reason"`
	Age                 *int    `json:"age"`
	ShowDetailsToPublic *bool   `json:"show_details_to_public"`
}

type chatRequest struct {
	Body          string `json:"body"`
	AttachmentURL string `json:"attachment_url"`
}

type errorResponse struct {
	RequestID string        `json:"request_id,omitempty"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleVisits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createVisitRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Reason = strings.TrimSpace(req.Reason)

	if req.RequestID == "" || req.Name == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id and name are required")
		return
	}
	if !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return
	}
	if req.Phone != "" && !isValidPhone(req.Phone) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "phone must be 8-16 digits")
		return
	}
	if req.Age < 0 || req.Age > 130 {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "age must be between 0 and 130")
		return
	}

	visit, _, err := h.store.CreateVisit(r.Context(), store.CreateVisitInput{
		RequestID:           req.RequestID,
		Name:                req.Name,
		Phone:               req.Phone,
		Reason:              req.Reason,
		Age:                 req.Age,
		ShowDetailsToPublic: req.ShowDetailsToPublic,
		CreatedAt:           time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	visits, err := h.store.SnapshotVisits(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}

	if r.URL.Query().Get("view") == "public" {
		public := make([]models.Visit, 0, len(visits))
		for _, v := range visits {
			public = append(public, v.PublicView())
		}
		visits = public
	}

	filter := r.URL.Query().Get("filter")
	projection := queue.Project(visits, filter)

	if revealRaw := strings.TrimSpace(r.URL.Query().Get("reveal")); revealRaw != "" {
		reveal, err := strconv.Atoi(revealRaw)
		if err != nil || reveal < 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "reveal must be a non-negative integer")
			return
		}
		projection.Archive = projection.RevealWindow(reveal)
	}

	writeJSON(w, http.StatusOK, projection)
}

func (h *Handler) handleVisitSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/visits/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1:
		h.handleVisitByID(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "reorder":
		h.handleReorder(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions":
		h.handleVisitAction(w, r, parts[0], parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleVisitByID(w http.ResponseWriter, r *http.Request, visitID string) {
	if !isValidUUID(visitID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "visit_id must be a UUID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		visit, _, err := h.store.GetVisit(r.Context(), visitID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, visit)

	case http.MethodPatch:
		var req updateVisitRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
		if req.Phone != nil && *req.Phone != "" && !isValidPhone(*req.Phone) {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "phone must be 8-16 digits")
			return
		}
		if req.Age != nil && (*req.Age < 0 || *req.Age > 130) {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "age must be between 0 and 130")
			return
		}
		visit, err := h.store.UpdateVisitDetails(r.Context(), store.UpdateVisitInput{
			VisitID:             visitID,
			Name:                req.Name,
			Phone:               req.Phone,
			Reason:              req.Reason,
			Age:                 req.Age,
			ShowDetailsToPublic: req.ShowDetailsToPublic,
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, visit)

	case http.MethodDelete:
		if err := h.store.DeleteVisit(r.Context(), visitID); err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

var actionNames = map[string]string{
	"start":           queue.ActionStart,
	"reinstate":       queue.ActionReinstate,
	"send-to-payment": queue.ActionSendToPayment,
	"finish":          queue.ActionFinish,
	"record-payment":  queue.ActionRecordPayment,
	"skip":            queue.ActionSkip,
	"archive":         queue.ActionArchive,
}

func (h *Handler) handleVisitAction(w http.ResponseWriter, r *http.Request, visitID, actionName string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(visitID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "visit_id must be a UUID")
		return
	}
	action, ok := actionNames[actionName]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req visitActionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	if action == queue.ActionSendToPayment && req.RequiredAmount <= 0 {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "required_amount must be positive")
		return
	}
	if action == queue.ActionRecordPayment && req.AmountPaid < 0 {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "amount_paid must not be negative")
		return
	}
	if req.EvictAction != "" && req.EvictAction != queue.ActionFinish && req.EvictAction != queue.ActionReinstate {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "evict_action must be finish or reinstate")
		return
	}

	visit, err := h.store.ApplyTransition(r.Context(), store.TransitionInput{
		RequestID:        req.RequestID,
		VisitID:          visitID,
		Action:           action,
		EvictAction:      req.EvictAction,
		RequiredAmount:   req.RequiredAmount,
		ServicesRendered: req.ServicesRendered,
		CustomLineItems:  req.CustomLineItems,
		AmountPaid:       req.AmountPaid,
		OccurredAt:       time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

func (h *Handler) handleReorder(w http.ResponseWriter, r *http.Request, visitID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isValidUUID(visitID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "visit_id must be a UUID")
		return
	}

	var req reorderRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.TargetVisitID = strings.TrimSpace(req.TargetVisitID)
	if req.TargetVisitID == "" || !isValidUUID(req.TargetVisitID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "target_visit_id must be a UUID")
		return
	}

	visit, _, err := h.store.ReorderVisit(r.Context(), store.ReorderInput{
		RequestID:     req.RequestID,
		VisitID:       visitID,
		TargetVisitID: req.TargetVisitID,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

func (h *Handler) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	from, ok := parseDateParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := parseDateParam(w, r, "to")
	if !ok {
		return
	}
	if to.Before(from) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "to must not precede from")
		return
	}

	stats, err := h.store.RangeStats(r.Context(), from, to)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := h.store.GetSettings(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, settings)

	case http.MethodPut:
		var settings models.ClinicSettings
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&settings); err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
		if strings.TrimSpace(settings.ClinicName) == "" {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "clinic_name is required")
			return
		}
		if err := h.store.UpdateSettings(r.Context(), settings); err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, settings)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := h.opts.ChatHistoryLimit
		if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
			parsed, err := strconv.Atoi(limitRaw)
			if err != nil || parsed <= 0 {
				writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
				return
			}
			limit = parsed
		}
		messages, err := h.store.ListChatMessages(r.Context(), limit)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, messages)

	case http.MethodPost:
		role := roleFromRequest(r)
		if role != models.RoleDoctor && role != models.RoleSecretary {
			writeError(w, "", http.StatusForbidden, "access_denied", "chat is staff only")
			return
		}
		var req chatRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
		req.Body = strings.TrimSpace(req.Body)
		if req.Body == "" && req.AttachmentURL == "" {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "body or attachment_url is required")
			return
		}
		message, err := h.store.AppendChatMessage(r.Context(), store.ChatInput{
			SenderRole:    role,
			Body:          req.Body,
			AttachmentURL: req.AttachmentURL,
			CreatedAt:     time.Now().UTC(),
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, message)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.uploader == nil {
		writeError(w, "", http.StatusNotImplemented, "uploads_disabled", "no blob store configured")
		return
	}

	filename := strings.TrimSpace(r.URL.Query().Get("filename"))
	if filename == "" || filename != path.Base(filename) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "filename must be a plain file name")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, h.opts.UploadMaxBytes+1))
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "unreadable upload body")
		return
	}
	if int64(len(data)) > h.opts.UploadMaxBytes {
		writeError(w, "", http.StatusRequestEntityTooLarge, "too_large", "upload exceeds the size limit")
		return
	}
	if len(data) == 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "empty upload body")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := fmt.Sprintf("uploads/%s/%s", time.Now().UTC().Format("2006/01/02"), uuid.NewString()+"-"+filename)
	url, err := h.uploader.Upload(r.Context(), key, data, contentType)
	if err != nil {
		writeError(w, "", http.StatusBadGateway, "upload_failed", "blob store rejected the upload")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func parseDateParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", name+" is required")
		return time.Time{}, false
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", name+" must be a YYYY-MM-DD date")
		return time.Time{}, false
	}
	return parsed, true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isValidPhone(value string) bool {
	if len(value) < 8 || len(value) > 16 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrVisitNotFound):
		return http.StatusNotFound, "visit_not_found", "visit not found"
	case errors.Is(err, queue.ErrTargetNotFound):
		return http.StatusNotFound, "target_not_found", "reorder target not found in the waiting list"
	case errors.Is(err, queue.ErrInvalidTransition):
		return http.StatusConflict, "invalid_state", "visit state does not allow this action"
	case errors.Is(err, queue.ErrInProgressBusy):
		return http.StatusConflict, "room_occupied", "another visit is already in progress"
	case errors.Is(err, queue.ErrNotWaiting):
		return http.StatusConflict, "not_waiting", "only waiting visits can be reordered"
	case errors.Is(err, queue.ErrMissingCharges):
		return http.StatusBadRequest, "invalid_request", "required amount must be set before payment"
	case errors.Is(err, store.ErrTerminalVisit):
		return http.StatusConflict, "already_archived", "archived visits cannot be deleted"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
