package accelcrypto

import (
	"bytes"
	"testing"
)

func TestKeyExchangeRoundTrip(t *testing.T) {
	client, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("client GenerateKeyPair: %v", err)
	}
	server, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("server GenerateKeyPair: %v", err)
	}

	clientShared, err := ComputeSharedSecret(client.PrivateKey, server.PublicKey)
	if err != nil {
		t.Fatalf("client ComputeSharedSecret: %v", err)
	}
	serverShared, err := ComputeSharedSecret(server.PrivateKey, client.PublicKey)
	if err != nil {
		t.Fatalf("server ComputeSharedSecret: %v", err)
	}
	if clientShared != serverShared {
		t.Fatalf("ECDH shared secrets disagree")
	}

	clientKeys, err := DeriveSessionKeys(clientShared, true)
	if err != nil {
		t.Fatalf("client DeriveSessionKeys: %v", err)
	}
	serverKeys, err := DeriveSessionKeys(serverShared, false)
	if err != nil {
		t.Fatalf("server DeriveSessionKeys: %v", err)
	}

	if clientKeys.SendKey != serverKeys.RecvKey {
		t.Fatalf("client send key must equal server recv key")
	}
	if clientKeys.RecvKey != serverKeys.SendKey {
		t.Fatalf("client recv key must equal server send key")
	}
	if clientKeys.SendKey == clientKeys.RecvKey {
		t.Fatalf("directions must be separated: send and recv keys must differ")
	}
}

func TestRoutedSealOpenRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x42}, 32))
	nonce := RoutedNonce(3, 12345)
	aad := []byte("session-aad")
	plaintext := []byte("hello world payload")

	ciphertext, err := SealRouted(key, nonce, aad, plaintext)
	if err != nil {
		t.Fatalf("SealRouted: %v", err)
	}
	got, err := OpenRouted(key, nonce, aad, ciphertext)
	if err != nil {
		t.Fatalf("OpenRouted: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}

	var wrongKey [32]byte
	copy(wrongKey[:], bytes.Repeat([]byte{0x24}, 32))
	if _, err := OpenRouted(wrongKey, nonce, aad, ciphertext); err == nil {
		t.Fatalf("expected error decrypting under the wrong key")
	}
}

func TestTokenSealOpenRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x11}, 32))
	plaintext := bytes.Repeat([]byte{0xAB}, 111)

	sealed, err := SealToken(key, plaintext)
	if err != nil {
		t.Fatalf("SealToken: %v", err)
	}
	if len(sealed) != 24+111+16 {
		t.Fatalf("expected 151 bytes total, got %d", len(sealed))
	}

	got, err := OpenToken(key, sealed)
	if err != nil {
		t.Fatalf("OpenToken: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch")
	}

	var wrongKey [32]byte
	copy(wrongKey[:], bytes.Repeat([]byte{0x99}, 32))
	if _, err := OpenToken(wrongKey, sealed); err == nil {
		t.Fatalf("expected error decrypting under the wrong key")
	}
}
