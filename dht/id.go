package dht

import (
	"crypto/rand"

	"github.com/cathalgarvey/lightdht/krpc"
)

// ID is the 160-bit Kademlia identifier space node ids and info-hashes
// share; an alias of krpc.ID so routing code and wire code agree on
// representation without a conversion at every boundary.
type ID = krpc.ID

// RandomID generates a cryptographically random 160-bit id, used both
// for a node's own identity and as the lookup target for the periodic
// self-refresh walk (spec.md §4.4).
func RandomID() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return ID{}, err
	}
	return id, nil
}

// Distance is the XOR metric between two ids (spec.md §2).
func Distance(a, b ID) ID {
	var d ID
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// lessDistance reports whether distance a is strictly closer than b, comparing
// byte-by-byte from the most significant end.
func lessDistance(a, b ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// CommonPrefixLen returns the number of leading bits a and b share,
// i.e. the position of the first differing bit. A return of 160 means
// the ids are identical. This is what determines which bucket of a
// prefix-splitting routing table an id belongs to (spec.md §4.2).
func CommonPrefixLen(a, b ID) int {
	for i := range a {
		if a[i] == b[i] {
			continue
		}
		x := a[i] ^ b[i]
		for bit := 0; bit < 8; bit++ {
			if x&(0x80>>uint(bit)) != 0 {
				return i*8 + bit
			}
		}
	}
	return len(a) * 8
}

// Bit returns the value (0 or 1) of the n'th most significant bit of id.
func Bit(id ID, n int) int {
	byteIdx := n / 8
	bitIdx := uint(n % 8)
	return int((id[byteIdx] >> (7 - bitIdx)) & 1)
}
