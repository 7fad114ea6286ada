package lock

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// passwordLength is fixed by the lock UI's six-cell input.
const passwordLength = 6

var ten = big.NewInt(10)

// generatePassword returns a fresh random 6-digit numeric password.
func generatePassword() (string, error) {
	var b strings.Builder
	b.Grow(passwordLength)
	for i := 0; i < passwordLength; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteString(n.String())
	}
	return b.String(), nil
}
