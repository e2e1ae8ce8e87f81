package app

import (
	"crypto/rand"
	"math/big"

	"quiz-battle-service/internal/domain"
)

// codeAlphabet leaves out characters that are easy to confuse when typed (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// CodeGenerator produces candidate join codes.
type CodeGenerator func() (string, error)

// RandomCode returns a random upper-case join code of domain.CodeLength characters.
func RandomCode() (string, error) {
	buf := make([]byte, domain.CodeLength)
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
