// Package xid generates prefixed unique IDs for sales, movements, audit rows,
// and request tracing. Collision-safe labels, not cryptographic identity.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

func New(prefix string) string {
	suffix, ok := randomSuffix()
	if !ok {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), suffix)
}

func randomSuffix() (string, bool) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", false
	}
	return hex.EncodeToString(buf), true
}
