package auth

import (
	"crypto/md5"

	"github.com/google/uuid"
)

// OfflineUUID derives the deterministic UUID used for a player when
// online-mode verification is disabled: a name-based (version 3) UUID over
// the string "OfflinePlayer:<name>", matching what Java's
// nameUUIDFromBytes produces so identities survive server restarts.
func OfflineUUID(username string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + username))
	sum[6] = (sum[6] & 0x0f) | 0x30 // version 3
	sum[8] = (sum[8] & 0x3f) | 0x80 // RFC 4122 variant
	return uuid.UUID(sum)
}
