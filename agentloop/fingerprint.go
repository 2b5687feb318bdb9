package agentloop

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/zeebo/blake3"
)

// Fingerprinter reduces file content to a short comparison key.
type Fingerprinter interface {
	Fingerprint(content string) string
}

// RollingHash is the default fingerprint: a 32-bit h*31+c hash over UTF-16
// code units, rendered in base 36. It is fast and not collision resistant.
// Content that is not valid UTF-8 is hashed byte by byte, so edits to binary
// or Latin-1 files still change the fingerprint.
type RollingHash struct{}

func (RollingHash) Fingerprint(content string) string {
	var h int32
	if !utf8.ValidString(content) {
		for i := 0; i < len(content); i++ {
			h = (h << 5) - h + int32(content[i])
		}
		return strconv.FormatInt(int64(h), 36)
	}
	for _, cu := range utf16.Encode([]rune(content)) {
		h = (h << 5) - h + int32(cu)
	}
	return strconv.FormatInt(int64(h), 36)
}

// Blake3Hash fingerprints with BLAKE3-256.
type Blake3Hash struct{}

func (Blake3Hash) Fingerprint(content string) string {
	sum := blake3.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// FingerprinterByName maps a config value to a Fingerprinter. The empty
// name selects RollingHash.
func FingerprinterByName(name string) (Fingerprinter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "rolling":
		return RollingHash{}, nil
	case "blake3":
		return Blake3Hash{}, nil
	default:
		return nil, fmt.Errorf("unknown fingerprint %q (want rolling or blake3)", name)
	}
}
