package scan

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// fingerprintBytes is how much of a file's head identifies it
const fingerprintBytes = 1024

// fingerprint hashes the first n bytes of a file. The result records n so
// a file that has since grown can be compared over the same prefix.
func fingerprint(path string, n int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	read, err := io.Copy(h, io.LimitReader(f, n))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%s", read, hex.EncodeToString(h.Sum(nil))), nil
}

// headFingerprint fingerprints up to fingerprintBytes of the file
func headFingerprint(path string, size int64) (string, error) {
	return fingerprint(path, min(size, fingerprintBytes))
}

// sameHead reports whether the file still starts with the bytes a stored
// fingerprint was taken over.
func sameHead(path string, stored string, size int64) (bool, error) {
	if stored == "" {
		return true, nil
	}
	prefix, _, ok := strings.Cut(stored, ":")
	if !ok {
		return false, nil
	}
	n, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil || n > size {
		return false, nil
	}
	current, err := fingerprint(path, n)
	if err != nil {
		return false, err
	}
	return current == stored, nil
}
