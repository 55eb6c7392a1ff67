package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"planhub/internal/auth"
	"planhub/internal/model"
	"planhub/internal/repo"
	"planhub/internal/search"
	"planhub/internal/stats"
)

type HTTPServer struct {
	service    *Service
	secret     []byte
	accessTTL  time.Duration
	corsOrigin string
}

func NewHTTPServer(service *Service, secret []byte, accessTTL time.Duration, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, secret: secret, accessTTL: accessTTL, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		payload := map[string]any{"ok": true, "status": "ready"}
		if err := s.service.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			payload = map[string]any{"ok": false, "status": "not_ready", "error": err.Error()}
		}
		writeJSON(w, status, payload)
		return
	}

	// Auth routes (no token required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		claims, err := s.claimsFrom(r)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        claims.Sub,
			"userName":      claims.Name,
			"plan":          claims.Plan,
		})
		return
	}

	claims, err := s.claimsFrom(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid token", nil)
		return
	}
	userID := claims.Sub

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "planners":
		s.routePlanners(w, r, userID, parts[2:])
	case "sections":
		s.routeSections(w, r, userID, parts[2:])
	case "activities":
		s.routeActivities(w, r, userID, parts[2:])
	case "time-entries":
		s.routeTimeEntries(w, r, userID, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
		Password    string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.SignUp(r.Context(), body.Email, body.DisplayName, body.Password)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	token, err := s.issueToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "TOKEN_ERROR", "Could not issue token", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

func (s *HTTPServer) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	token, err := s.issueToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "TOKEN_ERROR", "Could not issue token", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

func (s *HTTPServer) routePlanners(w http.ResponseWriter, r *http.Request, userID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		list, err := s.service.ListPlanners(r.Context(), userID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)

	case len(rest) == 0 && r.Method == http.MethodPost:
		var body CreatePlannerInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		planner, err := s.service.CreatePlanner(r.Context(), userID, body)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, planner)

	case len(rest) == 1:
		plannerID := rest[0]
		switch r.Method {
		case http.MethodGet:
			planner, caps, err := s.service.GetPlanner(r.Context(), userID, plannerID)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"planner": planner, "capabilities": caps})
		case http.MethodPut, http.MethodPatch:
			fields := map[string]any{}
			if err := decodeBody(r, &fields); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			planner, err := s.service.UpdatePlanner(r.Context(), userID, plannerID, fields)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, planner)
		case http.MethodDelete:
			if err := s.service.DeletePlanner(r.Context(), userID, plannerID); err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}

	case len(rest) == 2 && rest[1] == "archive" && r.Method == http.MethodPost:
		planner, err := s.service.ArchivePlanner(r.Context(), userID, rest[0])
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, planner)

	case len(rest) == 2 && rest[1] == "sections":
		plannerID := rest[0]
		switch r.Method {
		case http.MethodGet:
			sections, err := s.service.ListSections(r.Context(), userID, plannerID)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"sections": sections})
		case http.MethodPost:
			var body CreateSectionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			section, err := s.service.CreateSection(r.Context(), userID, plannerID, body)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, section)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}

	case len(rest) == 3 && rest[1] == "sections" && rest[2] == "reorder" && r.Method == http.MethodPost:
		var body struct {
			Items []repo.ReorderItem `json:"items"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.ReorderSections(r.Context(), userID, rest[0], body.Items); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 2 && rest[1] == "collaborators" && r.Method == http.MethodPost:
		var body struct {
			UserID string     `json:"userId"`
			Role   model.Role `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		planner, err := s.service.AddCollaborator(r.Context(), userID, rest[0], body.UserID, body.Role)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, planner)

	case len(rest) == 3 && rest[1] == "collaborators" && r.Method == http.MethodDelete:
		planner, err := s.service.RemoveCollaborator(r.Context(), userID, rest[0], rest[2])
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, planner)

	case len(rest) == 2 && rest[1] == "stats" && r.Method == http.MethodGet:
		rollup, err := s.service.GetStatistics(r.Context(), userID,
			stats.Scope{PlannerID: rest[0]}, statsFilters(r))
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rollup)

	case len(rest) == 2 && rest[1] == "search" && r.Method == http.MethodGet:
		resp, err := s.service.SearchActivities(r.Context(), userID, searchQuery(r, rest[0]))
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)

	case len(rest) == 2 && rest[1] == "export" && r.Method == http.MethodPost:
		payload, contentType, err := s.service.ExportPlanner(r.Context(), userID, rest[0])
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)

	case len(rest) == 2 && rest[1] == "suggestions" && r.Method == http.MethodGet:
		suggestions, err := s.service.GetSuggestions(r.Context(), userID, rest[0])
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) routeSections(w http.ResponseWriter, r *http.Request, userID string, rest []string) {
	switch {
	case len(rest) == 1:
		sectionID := rest[0]
		switch r.Method {
		case http.MethodGet:
			section, err := s.service.GetSection(r.Context(), userID, sectionID)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, section)
		case http.MethodPut, http.MethodPatch:
			fields := map[string]any{}
			if err := decodeBody(r, &fields); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			section, err := s.service.UpdateSection(r.Context(), userID, sectionID, fields)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, section)
		case http.MethodDelete:
			if err := s.service.DeleteSection(r.Context(), userID, sectionID); err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}

	case len(rest) == 2 && rest[1] == "activities":
		sectionID := rest[0]
		switch r.Method {
		case http.MethodGet:
			activities, err := s.service.ListActivities(r.Context(), userID, sectionID)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"activities": activities})
		case http.MethodPost:
			var body CreateActivityInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			activity, err := s.service.CreateActivity(r.Context(), userID, sectionID, body)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, activity)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}

	case len(rest) == 3 && rest[1] == "activities" && rest[2] == "reorder" && r.Method == http.MethodPost:
		var body struct {
			Items []repo.ReorderItem `json:"items"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.ReorderActivities(r.Context(), userID, rest[0], body.Items); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(rest) == 2 && rest[1] == "stats" && r.Method == http.MethodGet:
		rollup, err := s.service.GetStatistics(r.Context(), userID,
			stats.Scope{SectionID: rest[0]}, statsFilters(r))
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rollup)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) routeActivities(w http.ResponseWriter, r *http.Request, userID string, rest []string) {
	switch {
	case len(rest) == 1 && rest[0] == "bulk-update" && r.Method == http.MethodPost:
		var body struct {
			IDs    []string       `json:"ids"`
			Fields map[string]any `json:"fields"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.BulkUpdateActivities(r.Context(), userID, body.IDs, body.Fields); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "updated": len(body.IDs)})

	case len(rest) == 1 && rest[0] == "bulk-delete" && r.Method == http.MethodPost:
		var body struct {
			IDs []string `json:"ids"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.BulkDeleteActivities(r.Context(), userID, body.IDs); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": len(body.IDs)})

	case len(rest) == 1:
		activityID := rest[0]
		switch r.Method {
		case http.MethodGet:
			activity, err := s.service.GetActivity(r.Context(), userID, activityID)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, activity)
		case http.MethodPut, http.MethodPatch:
			fields := map[string]any{}
			if err := decodeBody(r, &fields); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			activity, err := s.service.UpdateActivity(r.Context(), userID, activityID, fields)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, activity)
		case http.MethodDelete:
			if err := s.service.DeleteActivity(r.Context(), userID, activityID); err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}

	case len(rest) == 2 && rest[1] == "time-entries":
		activityID := rest[0]
		switch r.Method {
		case http.MethodGet:
			entries, err := s.service.ListTimeEntries(r.Context(), userID, activityID)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"timeEntries": entries})
		case http.MethodPost:
			entry, err := s.service.StartTimeEntry(r.Context(), userID, activityID)
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, entry)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}

	case len(rest) == 2 && rest[1] == "attachments" && r.Method == http.MethodPost:
		var body struct {
			FileName string `json:"fileName"`
			Size     int64  `json:"size"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		upload, err := s.service.CreateAttachment(r.Context(), userID, rest[0], body.FileName, body.Size)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, upload)

	case len(rest) == 3 && rest[1] == "attachments":
		switch r.Method {
		case http.MethodGet:
			url, err := s.service.AttachmentDownloadURL(r.Context(), userID, rest[0], rest[2])
			if err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"downloadUrl": url})
		case http.MethodDelete:
			if err := s.service.DeleteAttachment(r.Context(), userID, rest[0], rest[2]); err != nil {
				s.writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) routeTimeEntries(w http.ResponseWriter, r *http.Request, userID string, rest []string) {
	if len(rest) == 2 && rest[1] == "stop" && r.Method == http.MethodPost {
		entry, err := s.service.StopTimeEntry(r.Context(), userID, rest[0])
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) issueToken(user *model.User) (string, error) {
	return auth.IssueToken(s.secret, auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Plan: string(user.Plan),
		Exp:  time.Now().Add(s.accessTTL).Unix(),
	})
}

func (s *HTTPServer) claimsFrom(r *http.Request) (auth.Claims, error) {
	token := bearerToken(r)
	if token == "" {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	return auth.ParseToken(s.secret, token)
}

func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	domain := asDomainError(err)
	writeError(w, domain.Status, domain.Code, domain.Message, domain.Details)
}

func statsFilters(r *http.Request) stats.Filters {
	q := r.URL.Query()
	return stats.Filters{
		Status:     model.ActivityStatus(q.Get("status")),
		Priority:   model.ActivityPriority(q.Get("priority")),
		Type:       q.Get("type"),
		AssigneeID: q.Get("assigneeId"),
		Tag:        q.Get("tag"),
	}
}

func searchQuery(r *http.Request, plannerID string) search.Query {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return search.Query{
		Text:      q.Get("q"),
		PlannerID: plannerID,
		SectionID: q.Get("sectionId"),
		Status:    q.Get("status"),
		Limit:     limit,
		Offset:    offset,
	}
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
