// Package digest computes the keyed-BLAKE3 content hash that the whole
// content-addressing scheme is built on, and stages bytes onto disk through
// an atomic write-then-rename so readers never observe a truncated blob.
//
// Grounded on the teacher's dependency choices: google/renameio supplies
// the atomic rename (the teacher uses it for its own config/cache file
// writes), and the process-wide key is a once-initialized singleton in the
// same style as the teacher's process-wide blob directory / key handling
// described in the system design (§5, §9).
package digest

import (
	"bufio"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"io"
	"os"
	"sync"

	"github.com/google/renameio"
	"lukechampine.com/blake3"

	"mediaserver/internal/mediaerr"
)

const (
	keyLen        = 32
	minChunkBytes = 128
)

var (
	keyOnce sync.Once
	key     [keyLen]byte
	keySet  bool
)

// InitKey parses the process-wide keyed-digest key from raw. A 64-hex-char
// string is decoded directly to 32 bytes; any other string is hashed once
// with unkeyed BLAKE3 to derive 32 bytes, and a warning is the caller's
// responsibility to log (InitKey reports whether it took the hex path via
// the returned bool so callers can log accordingly).
//
// InitKey is idempotent after the first successful call: subsequent calls
// are no-ops, matching the "initialized once, cached for process lifetime"
// contract of §5/§9.
func InitKey(raw string) (usedHex bool, err error) {
	var k [keyLen]byte
	if len(raw) == 64 {
		if decoded, decErr := hex.DecodeString(raw); decErr == nil {
			copy(k[:], decoded)
			usedHex = true
		}
	}
	if !usedHex {
		sum := blake3.Sum256([]byte(raw))
		copy(k[:], sum[:])
	}
	keyOnce.Do(func() {
		key = k
		keySet = true
	})
	if !keySet {
		return usedHex, mediaerr.Configf("digest key already initialized")
	}
	return usedHex, nil
}

func keyedHasher() *blake3.Hasher {
	if !keySet {
		panic("digest: key not initialized")
	}
	return blake3.New(keyLen, key[:])
}

func encode(sum []byte) string {
	return base64.RawURLEncoding.EncodeToString(sum)
}

// DigestBytes returns the base64-url-no-pad keyed digest of buf.
func DigestBytes(buf []byte) string {
	h := keyedHasher()
	h.Write(buf)
	return encode(h.Sum(nil))
}

// DigestFile streams path in bounded chunks and returns its keyed digest.
// The digest is computed over the exact bytes on disk: no transformation,
// compression, or normalization happens here.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", mediaerr.Wrap(mediaerr.IO, err, "open %s for digest", path)
	}
	defer f.Close()

	h := keyedHasher()
	buf := make([]byte, 32*1024)
	r := bufio.NewReaderSize(f, 64*1024)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", mediaerr.Wrap(mediaerr.IO, rerr, "read %s for digest", path)
		}
	}
	return encode(h.Sum(nil)), nil
}

// CopyToBlob streams the bytes at from into the blob directory at to,
// overwriting any existing target (safe because the target name is derived
// from the content digest: identical content always produces an identical
// write). The write is published via rename so concurrent readers never see
// a partial file.
func CopyToBlob(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "open source %s", from)
	}
	defer src.Close()

	t, err := renameio.TempFile("", to)
	if err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "create staging file for %s", to)
	}
	defer t.Cleanup()

	buf := make([]byte, 64*1024)
	if minChunkBytes > len(buf) {
		buf = make([]byte, minChunkBytes)
	}
	if _, err := io.CopyBuffer(t, src, buf); err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "copy to staging file for %s", to)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "publish %s", to)
	}
	return nil
}

// WriteBytes atomically writes buf to the blob directory at to.
func WriteBytes(to string, buf []byte) error {
	t, err := renameio.TempFile("", to)
	if err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "create staging file for %s", to)
	}
	defer t.Cleanup()
	if _, err := t.Write(buf); err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "write staging file for %s", to)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return mediaerr.Wrap(mediaerr.IO, err, "publish %s", to)
	}
	return nil
}

// ConstantTimeEqual compares two digest strings without leaking timing
// information, used when an ETag or similar value is compared against
// caller-controlled input.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
