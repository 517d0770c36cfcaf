package orders

import (
	"crypto/subtle"
	"strings"
)

func codesMatch(expected string, presented string) bool {
	presented = strings.TrimSpace(presented)
	if expected == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
