// validate.go: validation of loaded settings.
package conf

import (
	"net/url"

	"github.com/phonemanage/phonemanage-go/internal/errors"
)

// MinPollIntervalSeconds is the floor for the reconciliation interval. The
// server is polled per device, anything faster is abuse.
const MinPollIntervalSeconds = 5

// ValidateSettings checks the loaded settings for values the agent cannot
// safely run with.
func ValidateSettings(settings *Settings) error {
	if settings.Server.URL == "" {
		return errors.Newf("server.url must be set").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	parsed, err := url.Parse(settings.Server.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return errors.Newf("server.url %q is not an absolute URL", settings.Server.URL).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("url", settings.Server.URL).
			Build()
	}

	if settings.Server.Timeout <= 0 {
		return errors.Newf("server.timeout must be positive, got %d", settings.Server.Timeout).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	if settings.Poll.Interval < MinPollIntervalSeconds {
		return errors.Newf("poll.interval %ds is below the %ds minimum", settings.Poll.Interval, MinPollIntervalSeconds).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("interval_s", settings.Poll.Interval).
			Build()
	}

	if settings.Poll.MaxInterval < settings.Poll.Interval {
		return errors.Newf("poll.maxinterval %ds is below poll.interval %ds", settings.Poll.MaxInterval, settings.Poll.Interval).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	if settings.Poll.SessionInterval <= 0 {
		return errors.Newf("poll.sessioninterval must be positive, got %d", settings.Poll.SessionInterval).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	if settings.Poll.FailureThreshold <= 0 {
		return errors.Newf("poll.failurethreshold must be positive, got %d", settings.Poll.FailureThreshold).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	if settings.Emergency.MaxPerDay <= 0 {
		return errors.Newf("emergency.maxperday must be positive, got %d", settings.Emergency.MaxPerDay).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	return nil
}
