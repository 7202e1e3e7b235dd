package httpapi

import (
	"encoding/hex"
	"fmt"

	"github.com/minio/highwayhash"
)

// etagFor computes §6's quoted 10-char ETag: a HighwayHash digest of
// contentHash, truncated and hex-encoded. HighwayHash is fast and
// non-cryptographic, already a teacher dependency, and is the right tool
// here since the ETag carries no security weight of its own — the
// security-sensitive digest is the keyed BLAKE3 content hash it is
// computed over.
func etagFor(key []byte, contentHash string) (string, error) {
	h, err := highwayhash.New64(key)
	if err != nil {
		return "", err
	}
	h.Write([]byte(contentHash))
	sum := h.Sum(nil)
	return fmt.Sprintf("%q", hex.EncodeToString(sum)[:10]), nil
}
