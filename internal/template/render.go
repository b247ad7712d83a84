package template

import (
	"regexp"
	"slices"
	"strings"
)

// Variable names filled in by the notification pipeline
const (
	VarCustomerName = "customer_name"
	VarOrderNumber  = "order_number"
	VarOrderID      = "order_id"
)

// Variables maps placeholder names to their values
type Variables map[string]string

// Rendered is a template with all known placeholders substituted
type Rendered struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// placeholderPattern matches {{name}} tokens
var placeholderPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Render replaces every {{key}} in text with vars[key]. Matching is exact and
// case-sensitive; placeholders without a variable are left as they are.
// Substitution is a single pass, so values are never re-expanded.
func Render(text string, vars Variables) string {
	if len(vars) == 0 || !strings.Contains(text, "{{") {
		return text
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// Render renders subject and both bodies of t
func (t *Template) Render(vars Variables) *Rendered {
	return &Rendered{
		Subject: Render(t.Subject, vars),
		HTML:    Render(t.BodyHTML, vars),
		Text:    Render(t.BodyText, vars),
	}
}

// Placeholders returns the distinct placeholder names used in text, in order
// of first appearance
func Placeholders(text string) []string {
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		if !slices.Contains(names, m[1]) {
			names = append(names, m[1])
		}
	}
	return names
}

// Unresolved returns the placeholders of r that survived rendering
func (r *Rendered) Unresolved() []string {
	var names []string
	for _, part := range []string{r.Subject, r.HTML, r.Text} {
		for _, name := range Placeholders(part) {
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	return names
}

// SampleVariables returns placeholder values for previews
func SampleVariables() Variables {
	return Variables{
		VarCustomerName: "Jane Doe",
		VarOrderNumber:  "#1001",
		VarOrderID:      "450789469",
	}
}
