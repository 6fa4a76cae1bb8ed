package smp

import (
	"crypto"
	"crypto/elliptic"
	"crypto/rand"

	"github.com/wsddn/go-ecdh"

	"github.com/airlinklabs/bthost"
)

// ECDHKeys is a P-256 key pair for LE Secure Connections pairing.
type ECDHKeys struct {
	public  crypto.PublicKey
	private crypto.PrivateKey
}

// GenerateKeys creates a fresh P-256 key pair.
func GenerateKeys() (*ECDHKeys, error) {
	var err error
	kp := ECDHKeys{}
	e := ecdh.NewEllipticECDH(elliptic.P256())

	kp.private, kp.public, err = e.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	return &kp, nil
}

// UnmarshalPublicKey decodes the 64-byte X||Y wire form, both coordinates
// little-endian [Vol 3, Part H, 3.5.6].
func UnmarshalPublicKey(b []byte) (crypto.PublicKey, bool) {
	if len(b) != 64 {
		return nil, false
	}
	e := ecdh.NewEllipticECDH(elliptic.P256())
	xs := bthost.Reverse(b[:32])
	ys := bthost.Reverse(b[32:])

	// uncompressed point header
	r := append([]byte{0x04}, xs...)
	r = append(r, ys...)

	return e.Unmarshal(r)
}

// MarshalPublicKeyXY encodes k into the 64-byte X||Y wire form.
func MarshalPublicKeyXY(k crypto.PublicKey) []byte {
	e := ecdh.NewEllipticECDH(elliptic.P256())

	ba := e.Marshal(k)
	ba = ba[1:] // strip the point header
	x := bthost.Reverse(ba[:32])
	y := bthost.Reverse(ba[32:])

	return append(x, y...)
}

// MarshalPublicKeyX encodes the X coordinate only, little-endian.
func MarshalPublicKeyX(k crypto.PublicKey) []byte {
	e := ecdh.NewEllipticECDH(elliptic.P256())

	ba := e.Marshal(k)
	ba = ba[1:]

	return bthost.Reverse(ba[:32])
}

// GenerateSecret computes the little-endian DHKey shared secret.
func GenerateSecret(prv crypto.PrivateKey, pub crypto.PublicKey) ([]byte, error) {
	e := ecdh.NewEllipticECDH(elliptic.P256())
	b, err := e.GenerateSharedSecret(prv, pub)
	return bthost.Reverse(b), err
}
