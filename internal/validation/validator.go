// Package validation checks batch requests before they reach the download engine.
package validation

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/veranemoloko/batchdl/internal/domain"
)

// ErrInvalidRequest is wrapped by every validation failure.
var ErrInvalidRequest = errors.New("invalid request")

var forbiddenHosts = []string{
	"localhost",
	"127.0.0.1",
	"::1",
	"0.0.0.0",
	"169.254.169.254",
}

// Options tunes a Validator.
type Options struct {
	// AllowPrivateHosts accepts loopback and private network hosts.
	AllowPrivateHosts bool
	// MaxRequestsPerBatch bounds the items of one batch; zero means unbounded.
	MaxRequestsPerBatch int
}

// Validator validates batch payloads.
type Validator struct {
	validate *validator.Validate
	opts     Options
}

// New creates a Validator with the safe_url and rel_path rules registered.
func New(opts Options) *Validator {
	v := &Validator{validate: validator.New(), opts: opts}
	_ = v.validate.RegisterValidation("safe_url", v.validateSafeURL)
	_ = v.validate.RegisterValidation("rel_path", validateRelativePath)
	return v
}

// ValidateBatch checks the payload of a new batch.
func (v *Validator) ValidateBatch(req domain.CreateBatchRequest) error {
	if limit := v.opts.MaxRequestsPerBatch; limit > 0 && len(req.Requests) > limit {
		return fmt.Errorf("%w: batch has %d requests, at most %d allowed", ErrInvalidRequest, len(req.Requests), limit)
	}
	if err := v.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, describe(err))
	}
	return nil
}

// ValidateURLs checks each URL with the safe_url rule.
func (v *Validator) ValidateURLs(urls []string) error {
	for _, u := range urls {
		if err := v.validate.Var(u, "required,safe_url"); err != nil {
			return fmt.Errorf("%w: invalid URL %q", ErrInvalidRequest, u)
		}
	}
	return nil
}

func describe(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := strings.TrimPrefix(fe.Namespace(), "CreateBatchRequest.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, field+" must not be empty")
		case "unique":
			msgs = append(msgs, field+" must not repeat a URL")
		case "safe_url":
			msgs = append(msgs, fmt.Sprintf("%s %q is not an allowed http(s) URL", field, fe.Value()))
		case "rel_path":
			msgs = append(msgs, fmt.Sprintf("%s %q must be a relative path inside the download directory", field, fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func (v *Validator) validateSafeURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	if u.Host == "" {
		return false
	}

	if v.opts.AllowPrivateHosts {
		return true
	}

	host := u.Hostname()
	for _, forbidden := range forbiddenHosts {
		if strings.EqualFold(host, forbidden) {
			return false
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return false
		}
	}

	return true
}

func validateRelativePath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return false
	}
	return !strings.HasSuffix(p, "/")
}
