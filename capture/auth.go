// Copyright 2026 The Replay Kiosk Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"crypto/sha256"
	"encoding/base64"
)

// AuthProof computes the challenge/response proof for the capture
// tool's handshake:
//
//	base64(SHA-256(base64(SHA-256(secret + salt)) + challenge))
//
// The composition must match the tool's verifier exactly; any deviation
// is a permanent authentication failure, not a retryable one. Pure
// function, no I/O.
func AuthProof(secret, salt, challenge string) string {
	secretHash := sha256.Sum256([]byte(secret + salt))
	secretProof := base64.StdEncoding.EncodeToString(secretHash[:])
	challengeHash := sha256.Sum256([]byte(secretProof + challenge))
	return base64.StdEncoding.EncodeToString(challengeHash[:])
}
