package cache

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// ComputeETag derives a weak validator from cached bytes.
func ComputeETag(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf(`W/"%x"`, sum[:8])
}

// ETagMatches reports whether an If-None-Match header value covers etag.
func ETagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || candidate == etag || "W/"+candidate == etag {
			return true
		}
	}
	return false
}
