package micro

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Subjects are dot-separated tokens, e.g. beacon.<device>.request. A token must be non-empty and
// free of the separator, wildcards and whitespace.

var ErrInvalidToken = eris.New("invalid subject token")

// Subject joins tokens into a subject.
func Subject(tokens ...string) string {
	return strings.Join(tokens, ".")
}

// ValidateToken reports whether s can be used as a single subject token.
func ValidateToken(s string) error {
	if s == "" {
		return eris.Wrap(ErrInvalidToken, "token cannot be empty")
	}
	if strings.ContainsAny(s, ".*> \t\r\n") {
		return eris.Wrapf(ErrInvalidToken, "token %q contains a reserved character", s)
	}
	return nil
}

// ValidatePrefix reports whether s is a valid subject prefix (one or more dot-separated tokens).
func ValidatePrefix(s string) error {
	for _, token := range strings.Split(s, ".") {
		if err := ValidateToken(token); err != nil {
			return eris.Wrapf(err, "invalid prefix %q", s)
		}
	}
	return nil
}
