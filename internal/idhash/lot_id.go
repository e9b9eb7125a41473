package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ComputeLotID computes a deterministic lot id using SHA256.
// Formula: SHA256(wallet|token|provenance_id)
// Returns hex-encoded hash (64 characters).
func ComputeLotID(wallet, token, provenanceID string) string {
	data := fmt.Sprintf("%s|%s|%s", wallet, token, provenanceID)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeFingerprint hashes an ordered list of trade identity keys into a
// source-data fingerprint. Cache entries carry it so staleness checks do not
// need to compare full payloads.
func ComputeFingerprint(keys []string) string {
	hash := sha256.Sum256([]byte(strings.Join(keys, "|")))
	return hex.EncodeToString(hash[:])
}
