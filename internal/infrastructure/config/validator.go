package configinfra

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	configdomain "github.com/kilometers-ai/plugsync/internal/core/domain/config"
	configports "github.com/kilometers-ai/plugsync/internal/core/ports/config"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// fieldKeys maps struct namespaces to the config keys users write.
var fieldKeys = map[string]string{
	"Settings.AutoUpdate.IntervalHours": "auto_update.interval_hours",
	"Settings.AutoUpdate.Parallelism":   "auto_update.parallelism",
	"Settings.Cooldown":                 "cooldown_seconds",
	"Settings.Retry.Interval":           "retry.interval_seconds",
	"Settings.Retry.MaxCount":           "retry.max_count",
	"Settings.Host.Command":             "host.command",
	"Settings.Host.ListTimeout":         "host.list_timeout",
	"Settings.Host.InstallTimeout":      "host.install_timeout",
	"Settings.LogLevel":                 "log.level",
}

// Validator checks struct tags on configdomain.Settings.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate reports every violated constraint at once, named by config key.
func (cv *Validator) Validate(s *configdomain.Settings) error {
	err := cv.v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key, ok := fieldKeys[fe.Namespace()]
		if !ok {
			key = fe.Namespace()
		}
		msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s, got %v", key, constraint(fe), fe.Value()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func constraint(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

var _ configports.Validator = (*Validator)(nil)
