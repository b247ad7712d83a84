package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	netmail "net/mail"
	"strconv"
	"time"

	"github.com/foxzi/pickup/internal/ledger"
	"github.com/foxzi/pickup/internal/mail"
	"github.com/foxzi/pickup/internal/pipeline"
)

// Paging limits for GET /api/emails
const (
	defaultEmailLimit = 50
	maxEmailLimit     = 500
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// CronResponse is the response of a completed run
type CronResponse struct {
	Success   bool              `json:"success"`
	Processed int               `json:"processed"`
	Sent      int               `json:"sent"`
	Errors    int               `json:"errors"`
	Skipped   int               `json:"skipped"`
	Details   []pipeline.Detail `json:"details"`
	Timestamp time.Time         `json:"timestamp"`
}

// FailureResponse is the response of an aborted operation
type FailureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// EmailsResponse is the response for GET /api/emails
type EmailsResponse struct {
	Emails []*ledger.Record `json:"emails"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// TestEmailRequest is the request body for POST /api/test-email
type TestEmailRequest struct {
	To string `json:"to"`
}

// TestEmailResponse is the response for POST /api/test-email
type TestEmailResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	MessageID string `json:"message_id"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

// handleCron handles GET and POST /api/cron. A client that hangs up does
// not stop the run.
func (s *Server) handleCron(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Runner.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrRunInProgress) {
			status = http.StatusConflict
		}
		s.sendJSON(w, status, FailureResponse{Success: false, Error: err.Error()})
		return
	}

	s.sendJSON(w, http.StatusOK, CronResponse{
		Success:   true,
		Processed: result.Processed,
		Sent:      result.Sent,
		Errors:    result.Errors,
		Skipped:   result.Skipped(),
		Details:   result.Details,
		Timestamp: time.Now().UTC(),
	})
}

// handleEmails handles GET /api/emails
func (s *Server) handleEmails(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultEmailLimit)
	if err != nil || limit < 1 {
		s.sendError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit > maxEmailLimit {
		limit = maxEmailLimit
	}

	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.sendError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	emails, total := s.deps.Ledger.ListSent(r.Context(), limit, offset)
	if emails == nil {
		emails = []*ledger.Record{}
	}

	s.sendJSON(w, http.StatusOK, EmailsResponse{
		Emails: emails,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// handleTestEmail handles POST /api/test-email
func (s *Server) handleTestEmail(w http.ResponseWriter, r *http.Request) {
	var req TestEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.To == "" {
		s.sendError(w, http.StatusBadRequest, "Email address is required")
		return
	}
	if _, err := netmail.ParseAddress(req.To); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid email address")
		return
	}

	if v, ok := s.deps.Sender.(mail.Verifier); ok {
		if err := v.Verify(r.Context()); err != nil {
			s.logger.Error("mail relay verification failed", "error", err)
			s.sendJSON(w, http.StatusInternalServerError, FailureResponse{Error: err.Error()})
			return
		}
	}

	result, err := s.deps.Sender.Send(r.Context(), mail.NewTestMessage(req.To))
	if err != nil {
		s.logger.Error("test email failed", "to", req.To, "error", err)
		s.sendJSON(w, http.StatusInternalServerError, FailureResponse{Error: err.Error()})
		return
	}

	s.logger.Info("test email sent", "to", req.To, "message_id", result.MessageID)
	s.sendJSON(w, http.StatusOK, TestEmailResponse{
		Success:   true,
		Message:   "Test email sent successfully",
		MessageID: result.MessageID,
	})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
