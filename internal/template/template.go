// Package template stores pickup notification templates and renders them.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by single-item operations on a missing template
	ErrNotFound = errors.New("template not found")

	// ErrInvalid is returned when required template fields are missing
	ErrInvalid = errors.New("invalid template")
)

// Template is a notification template. Subject and both bodies may contain
// {{placeholder}} tokens.
type Template struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	BodyHTML  string    `json:"body_html"`
	BodyText  string    `json:"body_text"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UnmarshalJSON treats a missing is_active field as true.
func (t *Template) UnmarshalJSON(data []byte) error {
	type plain Template
	aux := struct {
		*plain
		IsActive *bool `json:"is_active"`
	}{plain: (*plain)(t)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t.IsActive = aux.IsActive == nil || *aux.IsActive
	return nil
}

// Validate checks that every required field is set
func (t *Template) Validate() error {
	switch {
	case t.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalid)
	case t.Subject == "":
		return fmt.Errorf("%w: subject is required", ErrInvalid)
	case t.BodyHTML == "":
		return fmt.Errorf("%w: body_html is required", ErrInvalid)
	case t.BodyText == "":
		return fmt.Errorf("%w: body_text is required", ErrInvalid)
	}
	return nil
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Name     *string `json:"name,omitempty"`
	Subject  *string `json:"subject,omitempty"`
	BodyHTML *string `json:"body_html,omitempty"`
	BodyText *string `json:"body_text,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// Apply copies the set fields of p onto t
func (p Patch) Apply(t *Template) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Subject != nil {
		t.Subject = *p.Subject
	}
	if p.BodyHTML != nil {
		t.BodyHTML = *p.BodyHTML
	}
	if p.BodyText != nil {
		t.BodyText = *p.BodyText
	}
	if p.IsActive != nil {
		t.IsActive = *p.IsActive
	}
}

func createdAt(t *Template) time.Time {
	return t.CreatedAt
}
