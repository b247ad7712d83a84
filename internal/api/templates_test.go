package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/foxzi/pickup/internal/template"
)

func createTemplate(t *testing.T, env *testEnv, body string) string {
	t.Helper()
	w := env.do("POST", "/api/templates", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create Status = %d, body %s", w.Code, w.Body.String())
	}
	var resp TemplateMutationResponse
	decode(t, w, &resp)
	if !resp.Success || resp.ID == "" {
		t.Fatalf("unexpected create response %+v", resp)
	}
	return resp.ID
}

const validTemplate = `{
	"name": "Pickup",
	"subject": "Order {{order_number}} ready",
	"body_html": "<p>Hi {{customer_name}}</p>",
	"body_text": "Hi {{customer_name}}"
}`

func TestTemplateCRUD(t *testing.T) {
	env := setupTestServer(t, nil)

	id := createTemplate(t, env, validTemplate)

	w := env.do("GET", "/api/templates/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get Status = %d", w.Code)
	}
	var got TemplateResponse
	decode(t, w, &got)
	if got.Template.Name != "Pickup" || !got.Template.IsActive {
		t.Errorf("created template should default to active, got %+v", got.Template)
	}

	w = env.do("PUT", "/api/templates/"+id, `{"subject":"Ready: {{order_number}}","is_active":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update Status = %d, body %s", w.Code, w.Body.String())
	}
	var updated TemplateMutationResponse
	decode(t, w, &updated)
	if updated.Template.Subject != "Ready: {{order_number}}" || updated.Template.IsActive {
		t.Errorf("unexpected update result %+v", updated.Template)
	}
	if updated.Template.Name != "Pickup" {
		t.Errorf("absent fields must be kept, got name %q", updated.Template.Name)
	}

	// is_active missing from an update means true again
	w = env.do("PUT", "/api/templates/"+id, `{"name":"Renamed"}`)
	decode(t, w, &updated)
	if !updated.Template.IsActive || updated.Template.Name != "Renamed" {
		t.Errorf("unexpected update result %+v", updated.Template)
	}

	w = env.do("GET", "/api/templates", "")
	var list TemplateListResponse
	decode(t, w, &list)
	if len(list.Templates) != 1 {
		t.Errorf("expected 1 template, got %d", len(list.Templates))
	}

	if w := env.do("DELETE", "/api/templates/"+id, ""); w.Code != http.StatusOK {
		t.Errorf("delete Status = %d", w.Code)
	}
	if w := env.do("GET", "/api/templates/"+id, ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete Status = %d, want 404", w.Code)
	}
}

func TestTemplateCreateInactive(t *testing.T) {
	env := setupTestServer(t, nil)

	id := createTemplate(t, env, `{"name":"Off","subject":"s","body_html":"h","body_text":"t","is_active":false}`)
	tmpl, err := env.templates.Get(context.Background(), id)
	if err != nil || tmpl == nil {
		t.Fatalf("Get() = %v, %v", tmpl, err)
	}
	if tmpl.IsActive {
		t.Error("explicit is_active=false must be kept")
	}
}

func TestTemplateValidation(t *testing.T) {
	env := setupTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing name", "POST", "/api/templates", `{"subject":"s","body_html":"h","body_text":"t"}`, http.StatusBadRequest},
		{"missing body_text", "POST", "/api/templates", `{"name":"n","subject":"s","body_html":"h"}`, http.StatusBadRequest},
		{"invalid json", "POST", "/api/templates", `{invalid}`, http.StatusBadRequest},
		{"update unknown", "PUT", "/api/templates/missing", `{"name":"n"}`, http.StatusNotFound},
		{"update empty field", "PUT", "/api/templates/missing", `{"name":""}`, http.StatusBadRequest},
		{"delete unknown", "DELETE", "/api/templates/missing", "", http.StatusNotFound},
		{"get unknown", "GET", "/api/templates/missing", "", http.StatusNotFound},
		{"preview unknown", "POST", "/api/templates/missing/preview", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(tt.method, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("Status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	if n := len(env.templates.List(context.Background())); n != 0 {
		t.Errorf("invalid requests created %d templates", n)
	}
}

func TestCreateSample(t *testing.T) {
	env := setupTestServer(t, nil)

	w := env.do("POST", "/api/templates/create-sample", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d", w.Code)
	}
	var resp CreateSampleResponse
	decode(t, w, &resp)
	if !resp.Success || !resp.Created || resp.Template == nil || resp.Template.Name != template.DefaultName {
		t.Errorf("unexpected response %+v", resp)
	}

	w = env.do("POST", "/api/templates/create-sample", "")
	decode(t, w, &resp)
	if !resp.Success || resp.Created {
		t.Errorf("second call must not create, got %+v", resp)
	}

	if n := len(env.templates.List(context.Background())); n != 1 {
		t.Errorf("expected exactly 1 template, got %d", n)
	}
}

func TestPreviewTemplate(t *testing.T) {
	env := setupTestServer(t, nil)
	id := createTemplate(t, env, `{
		"name": "Preview",
		"subject": "Order {{order_number}}",
		"body_html": "<p>{{customer_name}} {{pickup_time}}</p>",
		"body_text": "{{customer_name}}"
	}`)

	w := env.do("POST", "/api/templates/"+id+"/preview", `{"variables":{"customer_name":"Ann","order_number":"#7"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, body %s", w.Code, w.Body.String())
	}
	var resp PreviewResponse
	decode(t, w, &resp)
	if resp.Subject != "Order #7" || resp.Text != "Ann" {
		t.Errorf("unexpected preview %+v", resp)
	}
	if len(resp.Unresolved) != 1 || resp.Unresolved[0] != "pickup_time" {
		t.Errorf("Unresolved = %v, want [pickup_time]", resp.Unresolved)
	}

	// Without a body the sample order is used
	w = env.do("POST", "/api/templates/"+id+"/preview", "")
	decode(t, w, &resp)
	if resp.Subject != "Order #1001" || resp.Text != "Jane Doe" {
		t.Errorf("unexpected sample preview %+v", resp)
	}
}
