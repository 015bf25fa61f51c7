// Package accelcrypto wires the cryptographic primitives this protocol assumes (X25519,
// XChaCha20-Poly1305-IETF, ChaCha20-Poly1305-IETF, Ed25519, a CSPRNG)
// into the key-derivation and nonce-construction glue the protocol
// actually needs: session key derivation from an ECDH shared secret,
// direction-separated HKDF info strings so a packet replayed back at
// its sender never decrypts, and the two AEAD wrappers used by route
// tokens and routed-payload headers respectively.
package accelcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"hash"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

func newSHA256() hash.Hash { return sha256.New() }

// ErrLowOrderPoint is returned by ComputeSharedSecret when the peer's
// public key is a small-order point, which would make the derived
// shared secret predictable.
var ErrLowOrderPoint = errors.New("accelcrypto: low-order point in ECDH exchange")

// KeyPair is an X25519 key-exchange pair.
type KeyPair struct {
	PrivateKey [32]byte
	PublicKey  [32]byte
}

// GenerateKeyPair produces a fresh clamped X25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(rand.Reader, kp.PrivateKey[:]); err != nil {
		return KeyPair{}, err
	}
	kp.PrivateKey[0] &= 248
	kp.PrivateKey[31] &= 127
	kp.PrivateKey[31] |= 64

	pub, err := curve25519.X25519(kp.PrivateKey[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, err
	}
	copy(kp.PublicKey[:], pub)
	return kp, nil
}

// ComputeSharedSecret runs X25519(privateKey, peerPublicKey) and
// rejects the all-zero result a low-order public key would produce.
func ComputeSharedSecret(privateKey, peerPublicKey [32]byte) ([32]byte, error) {
	var shared [32]byte
	out, err := curve25519.X25519(privateKey[:], peerPublicKey[:])
	if err != nil {
		return shared, err
	}
	copy(shared[:], out)

	var zero [32]byte
	if shared == zero {
		return shared, ErrLowOrderPoint
	}
	return shared, nil
}

// SessionKeys holds the direction-separated AEAD keys derived from a
// completed key exchange: each side encrypts under its own SendKey and
// decrypts under the peer's, which from its perspective is RecvKey.
type SessionKeys struct {
	SendKey [32]byte
	RecvKey [32]byte
}

const (
	hkdfSalt          = "accel-v1-salt"
	infoClientToServer = "accel client-to-server"
	infoServerToClient = "accel server-to-client"
)

// DeriveSessionKeys expands an ECDH shared secret into a pair of
// direction-separated keys via HKDF-SHA256. isClient selects which of
// the two derived keys becomes SendKey vs RecvKey, so a packet captured
// on the wire and bounced back at its sender never decrypts under the
// sender's own SendKey.
func DeriveSessionKeys(sharedSecret [32]byte, isClient bool) (SessionKeys, error) {
	c2s, err := hkdfExpand(sharedSecret[:], infoClientToServer)
	if err != nil {
		return SessionKeys{}, err
	}
	s2c, err := hkdfExpand(sharedSecret[:], infoServerToClient)
	if err != nil {
		return SessionKeys{}, err
	}
	if isClient {
		return SessionKeys{SendKey: c2s, RecvKey: s2c}, nil
	}
	return SessionKeys{SendKey: s2c, RecvKey: c2s}, nil
}

func hkdfExpand(secret []byte, info string) ([32]byte, error) {
	var out [32]byte
	r := hkdf.New(newSHA256, secret, []byte(hkdfSalt), []byte(info))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, err
	}
	return out, nil
}

// SignUpgradeRequest signs the upgrade-request payload with the buyer's
// Ed25519 private key.
func SignUpgradeRequest(buyerPrivateKey ed25519.PrivateKey, payload []byte) []byte {
	return ed25519.Sign(buyerPrivateKey, payload)
}

// VerifyUpgradeRequest checks a buyer signature over the upgrade-request
// payload.
func VerifyUpgradeRequest(buyerPublicKey ed25519.PublicKey, payload, sig []byte) bool {
	return ed25519.Verify(buyerPublicKey, payload, sig)
}

// SealRouted seals a routed-payload header/body with ChaCha20-Poly1305-
// IETF: AAD is caller-supplied (session_id ‖ session_version per the
// wire spec), nonce is caller-constructed (type ‖ sequence).
func SealRouted(key [32]byte, nonce [12]byte, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce[:], plaintext, aad), nil
}

// OpenRouted reverses SealRouted.
func OpenRouted(key [32]byte, nonce [12]byte, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce[:], ciphertext, aad)
}

// SealToken seals a route/continue token with XChaCha20-Poly1305-IETF:
// empty AAD, random 24-byte nonce prepended to the ciphertext as the
// wire format requires.
func SealToken(key [32]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	return append(nonce, sealed...), nil
}

// OpenToken reverses SealToken: in must be nonce(24) ‖ ciphertext ‖ tag(16).
func OpenToken(key [32]byte, in []byte) ([]byte, error) {
	if len(in) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("accelcrypto: token too short for nonce")
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	nonce := in[:chacha20poly1305.NonceSizeX]
	ciphertext := in[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ciphertext, nil)
}

// RoutedNonce builds the 12-byte nonce used by SealRouted/OpenRouted:
// the packet type as a little-endian u32 followed by the 8-byte
// sequence.
func RoutedNonce(packetType uint8, sequence uint64) [12]byte {
	var nonce [12]byte
	binary.LittleEndian.PutUint32(nonce[0:4], uint32(packetType))
	binary.LittleEndian.PutUint64(nonce[4:12], sequence)
	return nonce
}
