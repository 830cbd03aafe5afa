// Package kaead implements Katana's password-based key derivation and
// per-shard AES-256-GCM authenticated encryption.
//
// Argon2id derives a master secret from the archive password and a
// per-archive salt. Two purpose-bound 32-byte subkeys (AEAD key, HMAC key)
// are then expanded from that secret via HKDF, so a single Argon2id run
// serves both the shard cipher and the footer HMAC without key reuse across
// purposes.
package kaead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/xerrors"
)

const (
	// SaltSize is the size of the Argon2id salt stored in the footer.
	SaltSize = 16
	// NonceSize is the AES-256-GCM nonce size (96 bits).
	NonceSize = 12
	// TagSize is the AES-256-GCM authentication tag size (128 bits).
	TagSize = 16
	// KeySize is the size of both derived subkeys.
	KeySize = 32
)

// KDFParams are the Argon2id parameters recorded in the footer's encryption
// descriptor so a future reader can reproduce the derivation.
type KDFParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	Salt        [SaltSize]byte
}

// DefaultKDFParams returns reasonable Argon2id parameters for interactive
// archive creation.
func DefaultKDFParams() KDFParams {
	var p KDFParams
	p.MemoryKiB = 64 * 1024
	p.Iterations = 3
	p.Parallelism = 4
	return p
}

// NewSalt generates a fresh CSPRNG salt.
func NewSalt() ([SaltSize]byte, error) {
	var salt [SaltSize]byte
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return salt, xerrors.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// Keys holds the two subkeys derived from a session password. The AEAD key
// is shared read-only across shard workers; the HMAC key authenticates the
// footer. Zero on drop via Wipe.
type Keys struct {
	AEAD [KeySize]byte
	HMAC [KeySize]byte
}

// Derive runs Argon2id over password and params.Salt, then expands the
// result into the AEAD and HMAC subkeys via labeled HKDF-SHA256.
func Derive(password []byte, params KDFParams) (*Keys, error) {
	master := argon2.IDKey(password, params.Salt[:], params.Iterations, params.MemoryKiB, params.Parallelism, KeySize)
	defer wipe(master)

	keys := &Keys{}
	if err := expand(master, []byte("blitzarch-katana-aead"), keys.AEAD[:]); err != nil {
		return nil, err
	}
	if err := expand(master, []byte("blitzarch-katana-hmac"), keys.HMAC[:]); err != nil {
		return nil, err
	}
	return keys, nil
}

func expand(master, label, out []byte) error {
	r := hkdf.New(sha256.New, master, nil, label)
	if _, err := io.ReadFull(r, out); err != nil {
		return xerrors.Errorf("hkdf expand %s: %w", label, err)
	}
	return nil
}

// Wipe zeroes both subkeys in place.
func (k *Keys) Wipe() {
	wipe(k.AEAD[:])
	wipe(k.HMAC[:])
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ShardNonce constructs the per-shard 96-bit nonce: shard_id (big-endian
// u32) || 0u64. Because shard ids are unique within an archive and every
// archive uses a fresh salt (hence a fresh AEAD key), this nonce is never
// reused under the same key.
func ShardNonce(shardID uint32) [NonceSize]byte {
	var nonce [NonceSize]byte
	binary.BigEndian.PutUint32(nonce[:4], shardID)
	return nonce
}

// Seal encrypts plaintext under key using the shard's nonce, returning
// ciphertext with the 16-byte GCM tag appended.
func Seal(key [KeySize]byte, shardID uint32, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := ShardNonce(shardID)
	return aead.Seal(nil, nonce[:], plaintext, nil), nil
}

// Open authenticates and decrypts ciphertext (which must include the
// trailing 16-byte tag) under key using the shard's nonce. Any
// authentication failure is reported identically regardless of cause.
func Open(key [KeySize]byte, shardID uint32, ciphertext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := ShardNonce(shardID)
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, xerrors.Errorf("shard %d: authentication failed: %w", shardID, err)
	}
	return plaintext, nil
}

func newGCM(key [KeySize]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, xerrors.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, xerrors.Errorf("gcm: %w", err)
	}
	return aead, nil
}

// HMACSum computes HMAC-SHA-256 over data using the HMAC subkey.
func HMACSum(key [KeySize]byte, data []byte) [sha256.Size]byte {
	mac := hmac.New(sha256.New, key[:])
	mac.Write(data)
	var out [sha256.Size]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// VerifyHMAC compares an expected HMAC against data in constant time.
func VerifyHMAC(key [KeySize]byte, data []byte, expected [sha256.Size]byte) bool {
	got := HMACSum(key, data)
	return hmac.Equal(got[:], expected[:])
}
