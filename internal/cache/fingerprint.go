package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/bilalobe/opossum-router/internal/backend"
)

// Fingerprint derives a stable cache key from the request content and the
// backend that will serve it: task, input, backend id, and parameters in
// sorted order. The request ID is excluded so that identical work submitted
// twice shares one entry; the backend id is included so entries are scoped to
// the backend that produced them.
func Fingerprint(req backend.Request, backendID string) string {
	var sb strings.Builder
	sb.WriteString(req.Task)
	sb.WriteByte('\x00')
	sb.WriteString(req.Input)
	sb.WriteByte('\x00')
	sb.WriteString(backendID)

	if len(req.Params) > 0 {
		names := make([]string, 0, len(req.Params))
		for name := range req.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			sb.WriteByte('\x00')
			sb.WriteString(name)
			sb.WriteByte('=')
			sb.WriteString(req.Params[name])
		}
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
