package slug

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var nonAlphaNum = regexp.MustCompile(`[^a-z0-9]+`)

func Make(input string) string {
	s := strings.ToLower(strings.TrimSpace(input))
	s = nonAlphaNum.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "untitled"
	}
	return s
}

// Key turns a room name into a storage-safe key. Two names that slug to the same
// text still get distinct keys through the hash suffix.
func Key(room string) string {
	sum := sha256.Sum256([]byte(room))
	return Make(room) + "-" + hex.EncodeToString(sum[:4])
}
