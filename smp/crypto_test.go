package smp

import (
	"crypto/aes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airlinklabs/bthost"
)

// Toolbox vectors from the Core spec sample data. The published values
// are MSB first; the functions here take little-endian buffers.
func le(t *testing.T, s string) []byte {
	b, err := hex.DecodeString(s)
	require.Nil(t, err)
	return bthost.Reverse(b)
}

func TestAESCMACVector(t *testing.T) {
	// RFC 4493 example 1, zero length message
	key := le(t, "2b7e151628aed2a6abf7158809cf4f3c")
	out, err := aesCMAC(key, []byte{})
	require.Nil(t, err)
	assert.Equal(t, le(t, "bb1d6929e95937287fa37d129b756746"), out)
}

func TestF4Vector(t *testing.T) {
	u := le(t, "20b003d2f297be2c5e2c83a7e9f9a5b9eff49111acf4fddbcc0301480e359de6")
	v := le(t, "55188b3d32f6bb9a900afcfbeed4e72a59cb9ac2f19d7cfb6b4fdd49f47fc5fd")
	x := le(t, "d5cb8454d177733effffb2ec712baeab")

	out, err := smpF4(u, v, x, 0x00)
	require.Nil(t, err)
	assert.Equal(t, le(t, "f2c916f107a9bd1cf1eda1bea974872d"), out)
}

func TestF5Vector(t *testing.T) {
	w := le(t, "ec0234a357c8ad05341010a60a397d9b99796b13b4f866f1868d34f373bfa698")
	n1 := le(t, "d5cb8454d177733effffb2ec712baeab")
	n2 := le(t, "a6e8e7cc25a75f6e216583f7ff3dc4cf")
	a1 := le(t, "0056123737bfce")
	a2 := le(t, "00a713702dcfc1")

	mac, ltk, err := smpF5(w, n1, n2, a1, a2)
	require.Nil(t, err)
	assert.Equal(t, le(t, "2965f176a1084a02fd3f6a20ce636e20"), mac)
	assert.Equal(t, le(t, "6986791169d7cd23980522b594750a38"), ltk)
}

func TestF6Vector(t *testing.T) {
	w := le(t, "2965f176a1084a02fd3f6a20ce636e20")
	n1 := le(t, "d5cb8454d177733effffb2ec712baeab")
	n2 := le(t, "a6e8e7cc25a75f6e216583f7ff3dc4cf")
	r := le(t, "12a3343bb453bb5408da42d20c2d0fc8")
	ioCap := le(t, "010102")
	a1 := le(t, "0056123737bfce")
	a2 := le(t, "00a713702dcfc1")

	out, err := smpF6(w, n1, n2, r, ioCap, a1, a2)
	require.Nil(t, err)
	assert.Equal(t, le(t, "e3c473989cd0e8c5d26c0b09da958f61"), out)
}

func TestG2Vector(t *testing.T) {
	u := le(t, "20b003d2f297be2c5e2c83a7e9f9a5b9eff49111acf4fddbcc0301480e359de6")
	v := le(t, "55188b3d32f6bb9a900afcfbeed4e72a59cb9ac2f19d7cfb6b4fdd49f47fc5fd")
	x := le(t, "d5cb8454d177733effffb2ec712baeab")
	y := le(t, "a6e8e7cc25a75f6e216583f7ff3dc4cf")

	out, err := smpG2(u, v, x, y)
	require.Nil(t, err)
	// 0x2f9ed5ba mod 10^6
	assert.Equal(t, uint32(938554), out)
}

func TestC1Vector(t *testing.T) {
	// [Vol 3, Part H, 2.2.3] example. preq/pres below are in wire order.
	k := make([]byte, 16)
	r := le(t, "5783d52156ad6f0e6388274ec6702ee0")
	preq := []byte{0x01, 0x01, 0x00, 0x00, 0x10, 0x07, 0x07}
	pres := []byte{0x02, 0x03, 0x00, 0x00, 0x08, 0x00, 0x05}
	ia := le(t, "a1a2a3a4a5a6")
	ra := le(t, "b1b2b3b4b5b6")

	out, err := smpC1(k, r, preq, pres, 0x01, 0x00, ia, ra)
	require.Nil(t, err)
	assert.Equal(t, le(t, "1e1e3fef878988ead2a74dc5bef13b86"), out)
}

func TestS1(t *testing.T) {
	// [Vol 3, Part H, 2.2.4]: r' is the least significant 8 octets of
	// each random, r1 high. Cross-checked against MSB-order AES.
	k := le(t, "8899aabbccddeeff0022446688aacc00")
	r1 := le(t, "000f0e0d0c0b0a091122334455667788")
	r2 := le(t, "010203040506070899aabbccddeeff00")

	out, err := smpS1(k, r1, r2)
	require.Nil(t, err)

	block, err := aes.NewCipher(bthost.Reverse(k))
	require.Nil(t, err)
	rMSB, err := hex.DecodeString("112233445566778899aabbccddeeff00")
	require.Nil(t, err)
	exp := make([]byte, 16)
	block.Encrypt(exp, rMSB)

	assert.Equal(t, bthost.Reverse(exp), out)
}

func TestConfirmRoundTrip(t *testing.T) {
	// a generated confirm must verify against the mirrored context
	a, err := GenerateKeys()
	require.Nil(t, err)
	b, err := GenerateKeys()
	require.Nil(t, err)

	ini := &pairingContext{initiator: true, scECDHKeys: a, scRemotePubKey: b.public}
	res := &pairingContext{initiator: false, scECDHKeys: b, scRemotePubKey: a.public}

	conf, err := res.generateConfirm()
	require.Nil(t, err)

	ini.remoteConfirm = conf
	ini.remoteRandom = res.localRandom
	require.Nil(t, ini.checkConfirm())

	// a flipped bit must not verify
	ini.remoteRandom[0] ^= 0x01
	require.NotNil(t, ini.checkConfirm())
}

func TestPublicKeyRoundTrip(t *testing.T) {
	kp, err := GenerateKeys()
	require.Nil(t, err)

	wire := MarshalPublicKeyXY(kp.public)
	require.Len(t, wire, 64)

	back, ok := UnmarshalPublicKey(wire)
	require.True(t, ok)
	assert.Equal(t, wire, MarshalPublicKeyXY(back))

	_, ok = UnmarshalPublicKey(wire[:32])
	assert.False(t, ok)
}

func TestSharedSecretAgreement(t *testing.T) {
	a, err := GenerateKeys()
	require.Nil(t, err)
	b, err := GenerateKeys()
	require.Nil(t, err)

	s1, err := GenerateSecret(a.private, b.public)
	require.Nil(t, err)
	s2, err := GenerateSecret(b.private, a.public)
	require.Nil(t, err)
	assert.Equal(t, s1, s2)
}
