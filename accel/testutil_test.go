package accel

import (
	"crypto/ed25519"
)

func generateTestEd25519() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(nil)
}
