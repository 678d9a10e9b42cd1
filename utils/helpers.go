package utils

import (
	"encoding/hex"
	"net"

	"golang.org/x/crypto/blake2b"
)

func IsValidInterval(interval string) bool {
	switch interval {
	case "Minute", "Hour", "Day", "Week", "Month", "Quarter", "Year":
		return true
	default:
		return false
	}
}

// HashIP returns a keyed BLAKE2b-128 digest of the client address so visits can
// be correlated without storing the raw IP. Empty or unparsable input yields "".
func HashIP(ip string, key []byte) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	if len(key) > blake2b.Size {
		key = key[:blake2b.Size]
	}
	h, err := blake2b.New(16, key)
	if err != nil {
		return ""
	}
	h.Write([]byte(parsed.String()))
	return hex.EncodeToString(h.Sum(nil))
}
