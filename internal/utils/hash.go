package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// CommandHash returns a stable sha256 hex digest of a command in context.
// Length-prefixed fields keep distinct inputs from colliding.
func CommandHash(raw, cwd, shell string, argv []string) string {
	h := sha256.New()
	writeField := func(s string) {
		h.Write([]byte(strconv.Itoa(len(s))))
		h.Write([]byte{':'})
		h.Write([]byte(s))
	}
	writeField(raw)
	writeField(cwd)
	writeField(shell)
	writeField(strings.Join(argv, "\x00"))
	return hex.EncodeToString(h.Sum(nil))
}
