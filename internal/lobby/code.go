// internal/lobby/code.go
package lobby

import (
	"crypto/rand"
	"math/big"
)

const (
	// CodeLength is the number of characters in a lobby code.
	CodeLength  = 6
	codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// maxCodeAttempts caps collision retries in the store.
	maxCodeAttempts = 32
)

// CodeGenerator produces candidate lobby codes. Uniqueness is checked by the Store.
type CodeGenerator interface {
	Generate() (string, error)
}

// RandomCodes draws codes from crypto/rand.
type RandomCodes struct{}

// Generate returns a CodeLength code of uppercase letters and digits.
func (RandomCodes) Generate() (string, error) {
	code := make([]byte, CodeLength)
	max := big.NewInt(int64(len(codeCharset)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[n.Int64()]
	}
	return string(code), nil
}

// CodeFunc adapts a plain function to CodeGenerator.
type CodeFunc func() (string, error)

func (f CodeFunc) Generate() (string, error) { return f() }
