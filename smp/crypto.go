package smp

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"

	"github.com/aead/cmac"

	"github.com/airlinklabs/bthost"
)

// The toolbox functions below take little-endian buffers, matching the
// byte order SMP PDUs arrive in; buffers are swapped to MSB-first around
// the block cipher [Vol 3, Part H, 2.2].

func aesCMAC(key, msg []byte) ([]byte, error) {
	mCipher, err := aes.NewCipher(bthost.Reverse(key))
	if err != nil {
		return nil, err
	}
	mMac, err := cmac.New(mCipher)
	if err != nil {
		return nil, err
	}
	mMac.Write(bthost.Reverse(msg))
	return bthost.Reverse(mMac.Sum(nil)), nil
}

func aes128(key, msg []byte) ([]byte, error) {
	mCipher, err := aes.NewCipher(bthost.Reverse(key))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 16)
	mCipher.Encrypt(out, bthost.Reverse(msg))
	return bthost.Reverse(out), nil
}

func xorSlice(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// smpF4 is the LE Secure Connections confirm value function
// [Vol 3, Part H, 2.2.6].
func smpF4(u, v, x []byte, z uint8) ([]byte, error) {
	if len(u) != 32 || len(v) != 32 || len(x) != 16 {
		return nil, fmt.Errorf("length error")
	}

	m := []byte{z}
	m = append(m, v...)
	m = append(m, u...)

	return aesCMAC(x, m)
}

// smpF5 derives MacKey and LTK from the DHKey [Vol 3, Part H, 2.2.7].
func smpF5(w, n1, n2, a1, a2 []byte) ([]byte, []byte, error) {
	switch {
	case len(w) != 32:
		return nil, nil, fmt.Errorf("length error w")
	case len(n1) != 16:
		return nil, nil, fmt.Errorf("length error n1")
	case len(n2) != 16:
		return nil, nil, fmt.Errorf("length error n2")
	case len(a1) != 7:
		return nil, nil, fmt.Errorf("length error a1")
	case len(a2) != 7:
		return nil, nil, fmt.Errorf("length error a2")
	}

	btle := []byte{0x65, 0x6c, 0x74, 0x62}
	salt := []byte{0xbe, 0x83, 0x60, 0x5a, 0xdb, 0x0b, 0x37, 0x60,
		0x38, 0xa5, 0xf5, 0xaa, 0x91, 0x83, 0x88, 0x6c}
	length := []byte{0x00, 0x01}

	t, err := aesCMAC(salt, w)
	if err != nil {
		return nil, nil, err
	}

	m := length
	m = append(m, a2...)
	m = append(m, a1...)
	m = append(m, n2...)
	m = append(m, n1...)
	m = append(m, btle...)
	m = append(m, 0x00)

	macKey, err := aesCMAC(t, m)
	if err != nil {
		return nil, nil, err
	}

	// counter byte flips for the ltk half
	m[52] = 0x01

	ltk, err := aesCMAC(t, m)
	if err != nil {
		return nil, nil, err
	}

	return macKey, ltk, nil
}

// smpF6 is the LE Secure Connections check value function
// [Vol 3, Part H, 2.2.8].
func smpF6(w, n1, n2, r, ioCap, a1, a2 []byte) ([]byte, error) {
	if len(w) != 16 || len(n1) != 16 || len(n2) != 16 || len(r) != 16 || len(ioCap) != 3 || len(a1) != 7 || len(a2) != 7 {
		return nil, fmt.Errorf("length error")
	}

	// f6(W, N1, N2, R, IOcap, A1, A2) = AES-CMAC W (N1 || N2 || R || IOcap || A1 || A2)
	m := append([]byte{}, a2...)
	m = append(m, a1...)
	m = append(m, ioCap...)
	m = append(m, r...)
	m = append(m, n2...)
	m = append(m, n1...)

	return aesCMAC(w, m)
}

// smpG2 is the numeric comparison value function [Vol 3, Part H, 2.2.9].
func smpG2(u, v, x, y []byte) (uint32, error) {
	if len(u) != 32 || len(v) != 32 || len(x) != 16 || len(y) != 16 {
		return 0, fmt.Errorf("length error")
	}

	// g2(U, V, X, Y) = AES-CMAC X (U || V || Y) mod 2^32
	m := append([]byte{}, y...)
	m = append(m, v...)
	m = append(m, u...)

	h, err := aesCMAC(x, m)
	if err != nil {
		return 0, err
	}

	out := binary.LittleEndian.Uint32(h[:4])
	return out % 1000000, nil
}

// smpC1 is the legacy pairing confirm value function
// [Vol 3, Part H, 2.2.3]: c1(k, r, ...) = e(k, e(k, r xor p1) xor p2).
func smpC1(k, r, preq, pres []byte, iat, rat uint8, ia, ra []byte) ([]byte, error) {
	if len(k) != 16 || len(r) != 16 || len(preq) != 7 || len(pres) != 7 || len(ia) != 6 || len(ra) != 6 {
		return nil, fmt.Errorf("length error")
	}

	// p1 = pres || preq || rat || iat, assembled little-endian from the
	// wire order PDUs
	p1 := []byte{iat, rat}
	p1 = append(p1, preq...)
	p1 = append(p1, pres...)

	// p2 = padding || ia || ra
	p2 := append([]byte{}, ra...)
	p2 = append(p2, ia...)
	p2 = append(p2, make([]byte, 4)...)

	res, err := aes128(k, xorSlice(r, p1))
	if err != nil {
		return nil, err
	}
	return aes128(k, xorSlice(res, p2))
}

// smpS1 is the legacy STK generation function [Vol 3, Part H, 2.2.4]:
// the least significant 8 octets of each random, responder's low.
func smpS1(k, r1, r2 []byte) ([]byte, error) {
	if len(k) != 16 || len(r1) != 16 || len(r2) != 16 {
		return nil, fmt.Errorf("length error")
	}

	r := append([]byte{}, r2[:8]...)
	r = append(r, r1[:8]...)

	return aes128(k, r)
}

// legacyPairingTK builds the legacy temporary key from a 6-digit passkey;
// zero for just works [Vol 3, Part H, 2.3.5.2].
func legacyPairingTK(key uint32) []byte {
	tk := make([]byte, 16)
	binary.LittleEndian.PutUint32(tk, key)
	return tk
}

// passkeyR builds the 128-bit r value carrying a passkey for the dhkey
// check [Vol 3, Part H, 2.3.5.6.5].
func passkeyR(key uint32) []byte {
	r := make([]byte, 16)
	binary.LittleEndian.PutUint32(r, key)
	return r
}
