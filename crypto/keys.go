package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"golang.org/x/crypto/ripemd160"
)

// AddressPrefix defines the different types of human-readable address prefixes.
type AddressPrefix string

const (
	DelegatePrefix AddressPrefix = "sld"
	NodePrefix     AddressPrefix = "sldn"
)

// Address represents a 20-byte RIPEMD-160 address with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != 20 {
		return Address{}, fmt.Errorf("address must be 20 bytes long, got %d", len(b))
	}
	cloned := append([]byte(nil), b...)
	return Address{prefix: prefix, bytes: cloned}, nil
}

// MustNewAddress constructs an address and panics if the input is invalid.
func MustNewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := NewAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return append([]byte(nil), a.bytes...)
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	addr, err := NewAddress(AddressPrefix(prefix), conv)
	if err != nil {
		return Address{}, err
	}
	return addr, nil
}

// --- Key Management ---

// PrivateKey wraps an Ed25519 seed-derived private key.
type PrivateKey struct {
	key ed25519.PrivateKey
}

// PublicKey wraps an Ed25519 public key.
type PublicKey struct {
	key ed25519.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: priv}, nil
}

// Bytes returns the 64-byte Ed25519 private key (seed || public key).
func (k *PrivateKey) Bytes() []byte {
	out := make([]byte, len(k.key))
	copy(out, k.key)
	return out
}

// Seed returns the 32-byte Ed25519 seed used for keystore encryption.
func (k *PrivateKey) Seed() []byte {
	seed := k.key.Seed()
	out := make([]byte, len(seed))
	copy(out, seed)
	return out
}

func (k *PrivateKey) PubKey() *PublicKey {
	pub := k.key.Public().(ed25519.PublicKey)
	return &PublicKey{key: pub}
}

// Sign produces a 64-byte Ed25519 signature over msg.
func (k *PrivateKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.key, msg)
}

func (k *PublicKey) Bytes() []byte {
	out := make([]byte, len(k.key))
	copy(out, k.key)
	return out
}

// Verify checks a 64-byte Ed25519 signature over msg.
func (k *PublicKey) Verify(msg, sig []byte) bool {
	if len(k.key) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(k.key, msg, sig)
}

// Address derives the 20-byte RIPEMD-160(SHA-256(pubkey)) node/delegate address.
func (k *PublicKey) Address() Address {
	shaSum := sha256.Sum256(k.key)
	hasher := ripemd160.New()
	hasher.Write(shaSum[:])
	addrBytes := hasher.Sum(nil)
	return MustNewAddress(DelegatePrefix, addrBytes)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	switch len(b) {
	case ed25519.SeedSize:
		return &PrivateKey{key: ed25519.NewKeyFromSeed(b)}, nil
	case ed25519.PrivateKeySize:
		cloned := make([]byte, ed25519.PrivateKeySize)
		copy(cloned, b)
		return &PrivateKey{key: cloned}, nil
	default:
		return nil, fmt.Errorf("private key must be %d (seed) or %d (expanded) bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(b))
	}
}

func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	cloned := make([]byte, ed25519.PublicKeySize)
	copy(cloned, b)
	return &PublicKey{key: cloned}, nil
}

// NodeID returns the 20-byte RIPEMD-160 digest of "host:port", used as the
// canonical DHT identifier for a node.
func NodeID(hostport string) [20]byte {
	hasher := ripemd160.New()
	hasher.Write([]byte(hostport))
	sum := hasher.Sum(nil)
	var id [20]byte
	copy(id[:], sum)
	return id
}
