package peers

import "golang.org/x/crypto/blake2b"

// NameHash derives the 32-byte digest the selection algorithm uses to pick
// a stable peer for a given query name. This is independent of, and much
// simpler than, the on-chain header hashing primitive (out of scope here):
// it only needs to be a stable, well-distributed function of the name.
func NameHash(name string) [32]byte {
	return blake2b.Sum256([]byte(name))
}
