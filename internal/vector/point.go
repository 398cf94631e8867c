package vector

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// PointID derives the stable identifier for a chunk from its source and
// position. Re-ingesting the same source yields the same ids, so upserts
// overwrite the prior generation instead of duplicating it, and ids never
// collide across distinct sources in practice (64-bit truncated sha256).
func PointID(source string, chunkIndex int) uint64 {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%d", source, chunkIndex)))
	return binary.BigEndian.Uint64(sum[:8])
}
