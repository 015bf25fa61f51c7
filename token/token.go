// Package token implements the backend-minted route and continue
// tokens: one opaque blob per hop, encrypted to that hop's secret, that
// decrypts to reveal the AEAD key and routing parameters for the next
// leg of a session's route.
package token

import (
	"encoding/binary"
	"fmt"

	"github.com/networknext/sdk-sub001/accelcrypto"
)

const (
	// RouteTokenPlainBytes is the pre-encryption size of a route token
	// (111 bytes, bit-exact per the wire contract). The logical fields
	// below account for 71 of those bytes; the remaining 40 are a
	// reserved/padding block, zeroed on encode and ignored on decode,
	// that brings the token up to its specified wire size.
	RouteTokenPlainBytes = 111
	routeTokenFieldBytes = 71
	routeTokenReserved   = RouteTokenPlainBytes - routeTokenFieldBytes

	// ContinueTokenPlainBytes is the pre-encryption size of a continue
	// token.
	ContinueTokenPlainBytes = 17

	// SealedOverhead is the nonce + AEAD tag overhead XChaCha20-
	// Poly1305-IETF adds on top of the plaintext size.
	SealedOverhead = 24 + 16
)

// RouteToken is the decrypted content of one hop's route token.
type RouteToken struct {
	SessionPrivateKey [32]byte
	ExpireTimestamp   uint64
	SessionID         uint64
	KbpsUp            int32
	KbpsDown          int32
	NextAddress       [4]byte // big-endian IPv4
	PrevAddress       [4]byte
	NextPort          uint16
	PrevPort          uint16
	SessionVersion    uint8
	NextInternal      bool
	PrevInternal      bool
}

// Encode serializes the token to its 111-byte pre-encryption form.
func (t RouteToken) Encode() []byte {
	buf := make([]byte, RouteTokenPlainBytes)
	copy(buf[0:32], t.SessionPrivateKey[:])
	binary.LittleEndian.PutUint64(buf[32:40], t.ExpireTimestamp)
	binary.LittleEndian.PutUint64(buf[40:48], t.SessionID)
	binary.LittleEndian.PutUint32(buf[48:52], uint32(t.KbpsUp))
	binary.LittleEndian.PutUint32(buf[52:56], uint32(t.KbpsDown))
	copy(buf[56:60], t.NextAddress[:])
	copy(buf[60:64], t.PrevAddress[:])
	binary.BigEndian.PutUint16(buf[64:66], t.NextPort)
	binary.BigEndian.PutUint16(buf[66:68], t.PrevPort)
	buf[68] = t.SessionVersion
	buf[69] = boolByte(t.NextInternal)
	buf[70] = boolByte(t.PrevInternal)
	// buf[71:111] is reserved padding, left zeroed.
	return buf
}

// DecodeRouteToken parses the 111-byte pre-encryption form.
func DecodeRouteToken(buf []byte) (RouteToken, error) {
	if len(buf) != RouteTokenPlainBytes {
		return RouteToken{}, fmt.Errorf("token: route token must be %d bytes, got %d", RouteTokenPlainBytes, len(buf))
	}
	var t RouteToken
	copy(t.SessionPrivateKey[:], buf[0:32])
	t.ExpireTimestamp = binary.LittleEndian.Uint64(buf[32:40])
	t.SessionID = binary.LittleEndian.Uint64(buf[40:48])
	t.KbpsUp = int32(binary.LittleEndian.Uint32(buf[48:52]))
	t.KbpsDown = int32(binary.LittleEndian.Uint32(buf[52:56]))
	copy(t.NextAddress[:], buf[56:60])
	copy(t.PrevAddress[:], buf[60:64])
	t.NextPort = binary.BigEndian.Uint16(buf[64:66])
	t.PrevPort = binary.BigEndian.Uint16(buf[66:68])
	t.SessionVersion = buf[68]
	t.NextInternal = buf[69] != 0
	t.PrevInternal = buf[70] != 0
	return t, nil
}

// Seal encrypts the token under the hop's secret key with XChaCha20-
// Poly1305-IETF, empty AAD, random 24-byte nonce prepended.
func (t RouteToken) Seal(hopKey [32]byte) ([]byte, error) {
	return accelcrypto.SealToken(hopKey, t.Encode())
}

// OpenRouteToken decrypts and parses a sealed route token.
func OpenRouteToken(hopKey [32]byte, sealed []byte) (RouteToken, error) {
	plain, err := accelcrypto.OpenToken(hopKey, sealed)
	if err != nil {
		return RouteToken{}, fmt.Errorf("token: open route token: %w", err)
	}
	return DecodeRouteToken(plain)
}

// ContinueToken extends an existing route's lifetime without changing
// hops.
type ContinueToken struct {
	ExpireTimestamp uint64
	SessionID       uint64
	SessionVersion  uint8
}

// Encode serializes the token to its 17-byte pre-encryption form.
func (t ContinueToken) Encode() []byte {
	buf := make([]byte, ContinueTokenPlainBytes)
	binary.LittleEndian.PutUint64(buf[0:8], t.ExpireTimestamp)
	binary.LittleEndian.PutUint64(buf[8:16], t.SessionID)
	buf[16] = t.SessionVersion
	return buf
}

// DecodeContinueToken parses the 17-byte pre-encryption form.
func DecodeContinueToken(buf []byte) (ContinueToken, error) {
	if len(buf) != ContinueTokenPlainBytes {
		return ContinueToken{}, fmt.Errorf("token: continue token must be %d bytes, got %d", ContinueTokenPlainBytes, len(buf))
	}
	return ContinueToken{
		ExpireTimestamp: binary.LittleEndian.Uint64(buf[0:8]),
		SessionID:       binary.LittleEndian.Uint64(buf[8:16]),
		SessionVersion:  buf[16],
	}, nil
}

// Seal encrypts the token under the hop's secret key.
func (t ContinueToken) Seal(hopKey [32]byte) ([]byte, error) {
	return accelcrypto.SealToken(hopKey, t.Encode())
}

// OpenContinueToken decrypts and parses a sealed continue token.
func OpenContinueToken(hopKey [32]byte, sealed []byte) (ContinueToken, error) {
	plain, err := accelcrypto.OpenToken(hopKey, sealed)
	if err != nil {
		return ContinueToken{}, fmt.Errorf("token: open continue token: %w", err)
	}
	return DecodeContinueToken(plain)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
