package submission

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUserID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty defaults to anonymous", in: "", want: "anonymous"},
		{name: "whitespace defaults to anonymous", in: "   ", want: "anonymous"},
		{name: "trimmed", in: "  alice ", want: "alice"},
		{name: "kept", in: "bob", want: "bob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeUserID(tt.in))
		})
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("Teacher")
	require.NoError(t, err)
	assert.Equal(t, RoleTeacher, r)

	r, err = ParseRole("student")
	require.NoError(t, err)
	assert.Equal(t, RoleStudent, r)

	_, err = ParseRole("janitor")
	assert.True(t, errors.Is(err, ErrInvalidRole))
}

func TestNew(t *testing.T) {
	s := New([]byte{0xFF, 0xD8, 0xFF, 0xD9}, "", RoleStudent)

	assert.Equal(t, "anonymous", s.UserID)
	assert.Equal(t, RoleStudent, s.Role)
	assert.Equal(t, "data:image/jpeg;base64,/9j/2Q==", s.Image)

	body, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"image":"data:image/jpeg;base64,/9j/2Q==","user_id":"anonymous","role":"student"}`, string(body))
}

func TestDecodeDataURL(t *testing.T) {
	data, err := DecodeDataURL(EncodeDataURL([]byte("frame")))
	require.NoError(t, err)
	assert.Equal(t, []byte("frame"), data)

	_, err = DecodeDataURL("not-a-data-url")
	assert.ErrorIs(t, err, ErrInvalidImageFormat)

	_, err = DecodeDataURL("data:image/jpeg;base64,!!!")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidImageFormat)
}

func TestResultOK(t *testing.T) {
	assert.True(t, (&Result{Status: "ok"}).OK())
	assert.False(t, (&Result{Status: "warning"}).OK())
	assert.False(t, (&Result{}).OK())
}
