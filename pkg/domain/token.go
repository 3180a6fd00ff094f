package domain

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Token is the capability credential presented on every Environment control call.
// The zero value is never minted and therefore never grants access to a live Environment.
type Token uint64

// NewToken draws an unpredictable, non-zero token.
func NewToken() (Token, error) {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("failed to mint token: %w", err)
		}
		if t := Token(binary.LittleEndian.Uint64(buf[:])); t != 0 {
			return t, nil
		}
	}
}

// String hides the value so tokens do not leak into logs.
func (t Token) String() string {
	return "Token(***)"
}
