package mail

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/emersion/go-smtp"
)

// DeliveryError is a failed delivery attempt
type DeliveryError struct {
	Temporary bool
	Code      int
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// smtpCodePattern matches SMTP reply codes at word boundaries
var smtpCodePattern = regexp.MustCompile(`\b(4\d{2}|5\d{2})\b`)

// categorizeError wraps err in a DeliveryError. 5xx replies are permanent,
// everything else is treated as temporary.
func categorizeError(err error, stage string) *DeliveryError {
	msg := fmt.Sprintf("%s failed: %v", stage, err)

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &DeliveryError{
			Temporary: smtpErr.Code < 500,
			Code:      smtpErr.Code,
			Message:   msg,
		}
	}

	if matches := smtpCodePattern.FindStringSubmatch(err.Error()); len(matches) > 1 {
		var code int
		fmt.Sscanf(matches[1], "%d", &code)
		return &DeliveryError{
			Temporary: !strings.HasPrefix(matches[1], "5"),
			Code:      code,
			Message:   msg,
		}
	}

	return &DeliveryError{Temporary: true, Message: msg}
}

// IsTemporaryError reports whether err is worth retrying on a later run
func IsTemporaryError(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return true
}
