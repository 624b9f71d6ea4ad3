// Package submission defines the frame submission exchanged between the
// capture agent and the analysis server.
package submission

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	// AnonymousUser is sent when the identifier field is left empty.
	AnonymousUser = "anonymous"

	// StatusOK marks a successful analysis. Any other status leaves the
	// agent display untouched.
	StatusOK      = "ok"
	StatusWarning = "warning"
	StatusError   = "error"

	jpegDataURLPrefix = "data:image/jpeg;base64,"
	base64Marker      = "base64,"
)

var (
	ErrInvalidImageFormat = errors.New("invalid image format")
	ErrInvalidRole        = errors.New("invalid role")
)

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// Roles lists the selectable roles in display order.
var Roles = []Role{RoleStudent, RoleTeacher}

// ParseRole accepts one of Roles, case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Submission is one encoded frame plus metadata. It lives for a single
// capture cycle.
type Submission struct {
	Image  string `json:"image"`
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// Result is the analysis response body.
type Result struct {
	Status     string  `json:"status"`
	Emotion    string  `json:"emotion,omitempty"`
	Confidence float64 `json:"confidence"`
	Engagement float64 `json:"engagement"`
	Message    string  `json:"message,omitempty"`
}

// OK reports whether the result should be shown to the user.
func (r *Result) OK() bool {
	return r.Status == StatusOK
}

// New builds a submission from raw JPEG bytes.
func New(jpeg []byte, userID string, role Role) Submission {
	return Submission{
		Image:  EncodeDataURL(jpeg),
		UserID: NormalizeUserID(userID),
		Role:   role,
	}
}

// NormalizeUserID trims the identifier and falls back to AnonymousUser.
func NormalizeUserID(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return AnonymousUser
	}
	return userID
}

// EncodeDataURL wraps JPEG bytes in a data URL.
func EncodeDataURL(jpeg []byte) string {
	return jpegDataURLPrefix + base64.StdEncoding.EncodeToString(jpeg)
}

// DecodeDataURL extracts the payload after the base64 marker. A URL without
// the marker yields ErrInvalidImageFormat; a bad payload yields a wrapped
// base64 error.
func DecodeDataURL(dataURL string) ([]byte, error) {
	idx := strings.Index(dataURL, base64Marker)
	if idx < 0 {
		return nil, ErrInvalidImageFormat
	}

	data, err := base64.StdEncoding.DecodeString(dataURL[idx+len(base64Marker):])
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	return data, nil
}
