// Package auth verifies player identities against the session service and
// derives offline identities.
package auth

import (
	"crypto/md5"
	"crypto/sha1"
	"math/big"

	"github.com/google/uuid"
)

// ServerHash computes the session-service server id digest: SHA-1 over
// serverID, the shared secret and the DER public key, printed as a signed
// two's complement hex number without zero padding.
func ServerHash(serverID string, sharedSecret, publicKeyDER []byte) string {
	h := sha1.New()
	h.Write([]byte(serverID))
	h.Write(sharedSecret)
	h.Write(publicKeyDER)
	sum := h.Sum(nil)

	n := new(big.Int).SetBytes(sum)
	if sum[0]&0x80 != 0 {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(len(sum)*8)))
	}
	return n.Text(16)
}

// OfflineUUID derives the version 3 UUID an unauthenticated player called
// name is known by.
func OfflineUUID(name string) uuid.UUID {
	h := md5.Sum([]byte("OfflinePlayer:" + name))
	h[6] = (h[6] & 0x0f) | 0x30
	h[8] = (h[8] & 0x3f) | 0x80
	return uuid.UUID(h)
}
