package service

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Feature names gated by a shared password
const (
	FeatureAdmin        = "admin"
	FeatureCrewTracking = "crew-tracking"
)

var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// PasswordMatches is the single comparison used for crew and feature
// passwords. An empty stored password matches anything. Stored bcrypt
// hashes are verified as such; any other stored value is compared as
// plaintext, which is how existing crews were saved.
func PasswordMatches(stored, provided string) bool {
	if stored == "" {
		return true
	}
	for _, prefix := range bcryptPrefixes {
		if strings.HasPrefix(stored, prefix) {
			return bcrypt.CompareHashAndPassword([]byte(stored), []byte(provided)) == nil
		}
	}
	return stored == provided
}
