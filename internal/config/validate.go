package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"cadence/pkg/schedule"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report json names ("jobs[0].unit") instead of Go field names.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks field constraints first, then that every enabled job
// rule builds and the scheduler settings parse.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := structValidator().Struct(cfg); err != nil {
		return describeValidation(err)
	}

	var errs []error
	if _, err := cfg.Scheduler.Location(); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}
	if _, _, err := cfg.Scheduler.PollBounds(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if t := cfg.Alerts.Telegram; t != nil {
		if _, err := ParseDurationField("alerts.telegram.dedup_window", t.DedupWindow); err != nil {
			errs = append(errs, err)
		}
	}
	if addr := strings.TrimSpace(cfg.HTTP.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("http.addr: %w", err))
		}
	}
	if _, err := ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout); err != nil {
		errs = append(errs, err)
	}
	for i, j := range cfg.Jobs {
		if j.Disabled {
			continue
		}
		b, err := j.Rule(schedule.Every)
		if err == nil {
			_, err = b.Build()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("jobs[%d] (%s): %w", i, j.Name, err))
		}
		if _, err := j.ExecTimeout(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		// Namespace is "Config.jobs[0].name"; drop the root type.
		path := fe.Namespace()
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[i+1:]
		}
		switch fe.Tag() {
		case "required", "required_if":
			msgs = append(msgs, path+": required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s: must be one of [%s], got %q", path, fe.Param(), fmt.Sprint(fe.Value())))
		case "unique":
			msgs = append(msgs, fmt.Sprintf("%s: duplicate %s", path, strings.ToLower(fe.Param())))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: failed %s%s", path, fe.Tag(), paramSuffix(fe.Param())))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}
