package identity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"hzpresence/internal/pkg/errs"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{"plain", "user1", true},
		{"mixed case", "SomeUser", true},
		{"safelist", "a.b-c_d@e:f", true},
		{"empty", "", false},
		{"brace", "user}1", false},
		{"space", "user 1", false},
		{"slash", "user/1", false},
		{"unicode", "usér", false},
		{"too long", string(make([]byte, MaxNameLength+1)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.input)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.True(t, errors.Is(err, errs.Sentinel(errs.ErrInvalidIdentity)))
		})
	}
}

func TestValidateMaxLength(t *testing.T) {
	name := make([]byte, MaxNameLength)
	for i := range name {
		name[i] = 'a'
	}
	assert.NoError(t, Validate(string(name)))
	assert.Error(t, Validate(string(name)+"a"))
}
