package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/pickup/internal/template"
)

// TemplateRequest is the body of POST and PUT /api/templates. On create every
// text field is required; on update absent fields are left unchanged. A
// missing is_active means true in both cases.
type TemplateRequest struct {
	Name     *string `json:"name"`
	Subject  *string `json:"subject"`
	BodyHTML *string `json:"body_html"`
	BodyText *string `json:"body_text"`
	IsActive *bool   `json:"is_active"`
}

func (req *TemplateRequest) patch() template.Patch {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return template.Patch{
		Name:     req.Name,
		Subject:  req.Subject,
		BodyHTML: req.BodyHTML,
		BodyText: req.BodyText,
		IsActive: &active,
	}
}

// TemplateListResponse is the response for GET /api/templates
type TemplateListResponse struct {
	Templates []*template.Template `json:"templates"`
}

// TemplateResponse wraps a single template
type TemplateResponse struct {
	Template *template.Template `json:"template"`
}

// TemplateMutationResponse is the response of create, update and delete
type TemplateMutationResponse struct {
	Success  bool               `json:"success"`
	ID       string             `json:"id,omitempty"`
	Template *template.Template `json:"template,omitempty"`
}

// CreateSampleResponse is the response for POST /api/templates/create-sample
type CreateSampleResponse struct {
	Success  bool               `json:"success"`
	Created  bool               `json:"created"`
	Message  string             `json:"message"`
	Template *template.Template `json:"template,omitempty"`
}

// PreviewRequest is the body of POST /api/templates/{id}/preview
type PreviewRequest struct {
	Variables template.Variables `json:"variables"`
}

// PreviewResponse is a rendered template
type PreviewResponse struct {
	Subject    string   `json:"subject"`
	HTML       string   `json:"html"`
	Text       string   `json:"text"`
	Unresolved []string `json:"unresolved,omitempty"`
}

// handleListTemplates handles GET /api/templates
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, TemplateListResponse{
		Templates: s.deps.Templates.List(r.Context()),
	})
}

// handleCreateTemplate handles POST /api/templates
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tmpl := &template.Template{}
	req.patch().Apply(tmpl)
	if err := tmpl.Validate(); err != nil {
		s.sendError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	if err := s.deps.Templates.Create(r.Context(), tmpl); err != nil {
		s.logger.Error("failed to create template", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create template")
		return
	}

	s.logger.Info("template created", "id", tmpl.ID, "name", tmpl.Name, "active", tmpl.IsActive)
	s.sendJSON(w, http.StatusCreated, TemplateMutationResponse{
		Success:  true,
		ID:       tmpl.ID,
		Template: tmpl,
	})
}

// handleGetTemplate handles GET /api/templates/{id}
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tmpl, err := s.deps.Templates.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get template", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get template")
		return
	}
	if tmpl == nil {
		s.sendError(w, http.StatusNotFound, "Template not found")
		return
	}

	s.sendJSON(w, http.StatusOK, TemplateResponse{Template: tmpl})
}

// handleUpdateTemplate handles PUT /api/templates/{id}
func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	for _, field := range []*string{req.Name, req.Subject, req.BodyHTML, req.BodyText} {
		if field != nil && *field == "" {
			s.sendError(w, http.StatusBadRequest, "Template fields must not be empty")
			return
		}
	}

	tmpl, err := s.deps.Templates.Update(r.Context(), id, req.patch())
	if err != nil {
		if template.IsNotFound(err) {
			s.sendError(w, http.StatusNotFound, "Template not found")
			return
		}
		s.logger.Error("failed to update template", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to update template")
		return
	}

	s.logger.Info("template updated", "id", id, "active", tmpl.IsActive)
	s.sendJSON(w, http.StatusOK, TemplateMutationResponse{Success: true, ID: id, Template: tmpl})
}

// handleDeleteTemplate handles DELETE /api/templates/{id}
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.deps.Templates.Delete(r.Context(), id); err != nil {
		if template.IsNotFound(err) {
			s.sendError(w, http.StatusNotFound, "Template not found")
			return
		}
		s.logger.Error("failed to delete template", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete template")
		return
	}

	s.logger.Info("template deleted", "id", id)
	s.sendJSON(w, http.StatusOK, TemplateMutationResponse{Success: true, ID: id})
}

// handleCreateSample handles POST /api/templates/create-sample
func (s *Server) handleCreateSample(w http.ResponseWriter, r *http.Request) {
	tmpl, created, err := s.deps.Templates.Initialize(r.Context())
	if err != nil {
		s.logger.Error("failed to create sample template", "error", err)
		s.sendJSON(w, http.StatusInternalServerError, FailureResponse{Error: err.Error()})
		return
	}

	resp := CreateSampleResponse{Success: true, Created: created, Template: tmpl}
	if created {
		resp.Message = "Sample email template created successfully!"
		s.logger.Info("sample template created", "id", tmpl.ID)
	} else {
		resp.Message = "Templates already exist, nothing was created"
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handlePreviewTemplate handles POST /api/templates/{id}/preview
func (s *Server) handlePreviewTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Variables) == 0 {
		req.Variables = template.SampleVariables()
	}

	tmpl, err := s.deps.Templates.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get template", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get template")
		return
	}
	if tmpl == nil {
		s.sendError(w, http.StatusNotFound, "Template not found")
		return
	}

	rendered := tmpl.Render(req.Variables)
	s.sendJSON(w, http.StatusOK, PreviewResponse{
		Subject:    rendered.Subject,
		HTML:       rendered.HTML,
		Text:       rendered.Text,
		Unresolved: rendered.Unresolved(),
	})
}
