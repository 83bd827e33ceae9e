package crypto

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// scrypt cost parameters, mirroring the teacher's use of
// keystore.StandardScryptN/P for the secp256k1 keystore.
const (
	scryptN = 1 << 18
	scryptR = 8
	scryptP = 1
)

type keystoreFile struct {
	Version int    `json:"version"`
	Salt    string `json:"salt"`
	Nonce   string `json:"nonce"`
	Cipher  string `json:"cipher"`
}

// SaveToKeystore encrypts the Ed25519 seed with a scrypt-derived key and
// seals it in a NaCl secretbox, writing the result to path. This replaces
// the teacher's Ethereum v3 keystore format, which is specific to ECDSA
// keys and cannot hold an Ed25519 seed.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}

	derived, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return fmt.Errorf("crypto: derive keystore key: %w", err)
	}
	var secretKey [32]byte
	copy(secretKey[:], derived)

	sealed := secretbox.Seal(nil, key.Seed(), &nonce, &secretKey)

	encoded := keystoreFile{
		Version: 1,
		Salt:    hexEncode(salt),
		Nonce:   hexEncode(nonce[:]),
		Cipher:  hexEncode(sealed),
	}
	payload, err := json.MarshalIndent(&encoded, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore decrypts a keystore file produced by SaveToKeystore using
// the supplied passphrase.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var stored keystoreFile
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("crypto: decode keystore: %w", err)
	}

	salt, err := hexDecode(stored.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode keystore salt: %w", err)
	}
	nonceBytes, err := hexDecode(stored.Nonce)
	if err != nil || len(nonceBytes) != 24 {
		return nil, errors.New("crypto: malformed keystore nonce")
	}
	cipher, err := hexDecode(stored.Cipher)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode keystore cipher: %w", err)
	}

	derived, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, fmt.Errorf("crypto: derive keystore key: %w", err)
	}
	var secretKey [32]byte
	copy(secretKey[:], derived)
	var nonce [24]byte
	copy(nonce[:], nonceBytes)

	seed, ok := secretbox.Open(nil, cipher, &nonce, &secretKey)
	if !ok {
		return nil, errors.New("crypto: incorrect passphrase or corrupt keystore")
	}

	return PrivateKeyFromBytes(seed)
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0x0f]
	}
	return string(out)
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, errors.New("crypto: odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("crypto: invalid hex digit %q", c)
	}
}
