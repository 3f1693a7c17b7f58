// Package password is the assist password hasher.
//
// New digests use the configured algorithm (Argon2id by default, bcrypt when selected)
// and are encoded as self-describing strings:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//	$2b$<cost>$<salt+hash>
//
// Verify accepts both families so digests written by older deployments keep working.
// Digests are untrusted input during Verify: malformed strings and parameters far above
// the configured cost are refused rather than computed.
package password
