package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// JobStatusKey is scoped by tenant so a cache hit never answers for another
// tenant's job.
func JobStatusKey(tenantID, jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s:%s", tenantID, jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

// ToolResultKey keys a cached tool output by tool name and a hash of its input.
func ToolResultKey(tool, input string) string {
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf("tools:%s:%s", tool, hex.EncodeToString(sum[:8]))
}
