// Package validate implements file and asset validation against immutable
// per-deployment rules. Validation is a pure function of its inputs: identical
// (name, size, type, rules) always yield an identical result.
package validate

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/photoprep/photoprep/internal/utils"
)

// Issue codes reported by the validator.
const (
	CodeFileTooLarge    = "file_too_large"
	CodeUnsupportedType = "unsupported_type"
	CodeUnknownType     = "unknown_type"
	CodeImageTooSmall   = "image_too_small"
	CodeImageTooLarge   = "image_too_large"
	CodeEmptyFile       = "empty_file"
)

// Rules is the immutable validation configuration for a deployment.
type Rules struct {
	MaxSizeBytes      int64
	MinWidth          int
	MinHeight         int
	MaxWidth          int
	MaxHeight         int
	AllowedTypes      []string
	AllowedExtensions []string
}

// DefaultRules returns the rules used when no deployment configuration is
// provided: 20 MB cap, common raster formats plus the MIME-less mobile
// still-photo format.
func DefaultRules() Rules {
	return Rules{
		MaxSizeBytes:      20 << 20,
		MinWidth:          64,
		MinHeight:         64,
		MaxWidth:          12000,
		MaxHeight:         12000,
		AllowedTypes:      []string{"image/jpeg", "image/png", "image/webp", "image/heic"},
		AllowedExtensions: []string{"jpg", "jpeg", "png", "webp", "heic", "heif"},
	}
}

// Issue is a single validation error or warning.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result reports the outcome of a validation pass.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

func (r *Result) addError(code, message string) {
	r.Errors = append(r.Errors, Issue{Code: code, Message: message})
	r.Valid = false
}

func (r *Result) addWarning(code, message string) {
	r.Warnings = append(r.Warnings, Issue{Code: code, Message: message})
}

// FirstError returns the message of the first error, or "".
func (r Result) FirstError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Message
}

// ValidateFile checks a candidate file's size and declared type. Both checks
// always run, so an oversized file of the wrong type reports two issues with
// distinct codes. The size check only enforces an upper bound; a zero-byte
// file passes with a warning.
func ValidateFile(name string, size int64, declaredType string, rules Rules) Result {
	result := Result{Valid: true}

	if rules.MaxSizeBytes > 0 && size > rules.MaxSizeBytes {
		result.addError(CodeFileTooLarge, fmt.Sprintf(
			"file exceeds the maximum size of %s", utils.FormatFileSize(rules.MaxSizeBytes)))
	}
	if size == 0 {
		result.addWarning(CodeEmptyFile, "file is empty")
	}

	checkType(name, declaredType, rules, &result)
	return result
}

// ValidateDimensions checks decoded pixel dimensions against the configured
// bounds. Zero-valued bounds disable the corresponding check.
func ValidateDimensions(width, height int, rules Rules) Result {
	result := Result{Valid: true}
	if (rules.MinWidth > 0 && width < rules.MinWidth) ||
		(rules.MinHeight > 0 && height < rules.MinHeight) {
		result.addError(CodeImageTooSmall, fmt.Sprintf(
			"image %dx%d is below the minimum of %dx%d", width, height, rules.MinWidth, rules.MinHeight))
	}
	if (rules.MaxWidth > 0 && width > rules.MaxWidth) ||
		(rules.MaxHeight > 0 && height > rules.MaxHeight) {
		result.addError(CodeImageTooLarge, fmt.Sprintf(
			"image %dx%d exceeds the maximum of %dx%d", width, height, rules.MaxWidth, rules.MaxHeight))
	}
	return result
}

// checkType tests the declared MIME type against the allow list. An empty or
// generic declared type (seen with some mobile capture formats) falls back to
// case-insensitive extension matching; a file recognized by neither is
// rejected.
func checkType(name, declaredType string, rules Rules, result *Result) {
	declared := normalizeMIME(declaredType)

	if declared != "" && declared != "application/octet-stream" && strings.Contains(declared, "/") {
		for _, allowed := range rules.AllowedTypes {
			if declared == normalizeMIME(allowed) {
				return
			}
		}
		result.addError(CodeUnsupportedType, fmt.Sprintf(
			"type %q is not supported (allowed: %s)", declared, strings.Join(rules.AllowedTypes, ", ")))
		return
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext != "" {
		for _, allowed := range rules.AllowedExtensions {
			if ext == strings.ToLower(strings.TrimPrefix(allowed, ".")) {
				return
			}
		}
	}
	result.addError(CodeUnknownType, fmt.Sprintf(
		"file %q has no recognized type or extension", name))
}

// normalizeMIME lowercases a MIME type and strips any parameters.
func normalizeMIME(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}
