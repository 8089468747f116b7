// Package identity validates the user names declared by connecting clients.
package identity

import (
	"hzpresence/internal/pkg/errs"
)

// MaxNameLength is the longest accepted user name, in bytes.
const MaxNameLength = 64

// safelist holds the non-alphanumeric characters allowed in a user name.
const safelist = "_-.@:"

// Validate checks a declared user name. An empty name (anonymous connect) is rejected,
// as is any name with characters outside [A-Za-z0-9] and the safelist.
func Validate(name string) error {
	if name == "" {
		return errs.NewError(errs.ErrInvalidIdentity, "empty name")
	}

	if len(name) > MaxNameLength {
		return errs.NewError(errs.ErrInvalidIdentity, "name too long")
	}

	for i := 0; i < len(name); i++ {
		if !allowed(name[i]) {
			return errs.NewError(errs.ErrInvalidIdentity, name)
		}
	}

	return nil
}

func allowed(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	for i := 0; i < len(safelist); i++ {
		if safelist[i] == c {
			return true
		}
	}
	return false
}
