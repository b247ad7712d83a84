package template

import (
	_ "embed"
	"time"
)

//go:embed default.html
var defaultHTML string

//go:embed default.txt
var defaultText string

// DefaultName is the name of the built-in template
const DefaultName = "Pickup Notification"

// Default returns the built-in pickup notification template, active and
// unsaved.
func Default() *Template {
	now := time.Now().UTC()
	return &Template{
		Name:      DefaultName,
		Subject:   "Your order {{order_number}} is ready for pickup!",
		BodyHTML:  defaultHTML,
		BodyText:  defaultText,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
