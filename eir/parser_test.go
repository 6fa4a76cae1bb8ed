package eir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airlinklabs/bthost"
)

type testPdu struct {
	b []byte
}

func (t *testPdu) add(recTyp byte, recBytes []byte) {
	lb := byte(len(recBytes) + 1)
	t.b = append(t.b, lb, recTyp)
	t.b = append(t.b, recBytes...)
}

func (t *testPdu) addBad(recTyp byte, badRecLen byte, recBytes []byte) {
	t.b = append(t.b, badRecLen, recTyp)
	t.b = append(t.b, recBytes...)
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse(nil)
	require.Equal(t, ErrEmptyPDU, err)
	_, err = Parse([]byte{})
	require.Equal(t, ErrEmptyPDU, err)
}

func TestParseNameAndFlags(t *testing.T) {
	p := testPdu{}
	p.add(adFlags, []byte{FlagGeneralDiscoverable | FlagLEOnly})
	p.add(adNameComp, []byte("thermo-1"))
	p.add(adTxPower, []byte{0xf4}) // -12 dBm

	r, err := Parse(p.b)
	require.NoError(t, err)

	assert.True(t, r.Set.Has(DataFlags))
	assert.Equal(t, uint8(FlagGeneralDiscoverable|FlagLEOnly), r.Flags)
	assert.Equal(t, "thermo-1", r.Name)
	assert.False(t, r.NameIsShort)
	assert.Equal(t, int8(-12), r.TxPower)
}

func TestParseShortNameDoesNotBeatComplete(t *testing.T) {
	p := testPdu{}
	p.add(adNameComp, []byte("complete"))
	p.add(adNameShort, []byte("shrt"))

	r, err := Parse(p.b)
	require.NoError(t, err)
	assert.Equal(t, "complete", r.Name)
	assert.False(t, r.NameIsShort)
}

func TestParseServiceUUIDs(t *testing.T) {
	p := testPdu{}
	p.add(adUUID16Comp, []byte{0x0d, 0x18, 0x0f, 0x18}) // 180d, 180f
	u128 := bthost.MustParseUUID("34DA3AD1-7110-41A1-B1EF-4430F509CDE7")
	p.add(adUUID128Comp, u128)

	r, err := Parse(p.b)
	require.NoError(t, err)
	require.Len(t, r.Services, 3)
	assert.True(t, r.Services[0].Equal(bthost.UUID16(0x180d)))
	assert.True(t, r.Services[1].Equal(bthost.UUID16(0x180f)))
	assert.True(t, r.Services[2].Equal(u128))
}

func TestParseBadUUIDArray(t *testing.T) {
	p := testPdu{}
	p.add(adUUID16Comp, []byte{0x0d, 0x18, 0x0f}) // trailing odd byte

	_, err := Parse(p.b)
	require.Error(t, err)
}

func TestParseBadRecordLength(t *testing.T) {
	p := testPdu{}
	p.addBad(adNameComp, 0x20, []byte("way too short"))

	_, err := Parse(p.b)
	require.Error(t, err)
}

func TestParseServiceDataAndManufacturer(t *testing.T) {
	p := testPdu{}
	p.add(adSvcData16, []byte{0x0f, 0x18, 0x64}) // battery 100%
	p.add(adManufData, []byte{0x39, 0x05, 0xde, 0xad})

	r, err := Parse(p.b)
	require.NoError(t, err)
	require.Len(t, r.ServiceData, 1)
	assert.True(t, r.ServiceData[0].UUID.Equal(bthost.UUID16(0x180f)))
	assert.Equal(t, []byte{0x64}, r.ServiceData[0].Data)
	assert.Equal(t, uint16(0x0539), r.ManufID)
	assert.Equal(t, []byte{0xde, 0xad}, r.ManufData)
}

func TestPacketRoundTrip(t *testing.T) {
	ad, sr, err := BuildAdvertisement("sensor", []bthost.UUID{bthost.UUID16(0x180d)}, 0x0539, []byte{1, 2, 3})
	require.NoError(t, err)
	require.NotEmpty(t, ad)

	r, err := Parse(ad)
	require.NoError(t, err)
	if len(sr) > 0 {
		srr, err := Parse(sr)
		require.NoError(t, err)
		r.Merge(srr)
	}

	assert.Equal(t, "sensor", r.Name)
	require.Len(t, r.Services, 1)
	assert.True(t, r.Services[0].Equal(bthost.UUID16(0x180d)))
	assert.Equal(t, uint16(0x0539), r.ManufID)
}

func TestPacketFit(t *testing.T) {
	p, err := NewPacket(Flags(FlagGeneralDiscoverable))
	require.NoError(t, err)

	long := make([]byte, 30)
	assert.Equal(t, ErrNotFit, p.Append(CompleteName(string(long))))
	// packet left intact
	assert.Equal(t, 3, p.Len())
}

func TestMergeScanResponse(t *testing.T) {
	adR, err := Parse((&testPdu{}).buildFlagsOnly())
	require.NoError(t, err)

	srp := testPdu{}
	srp.add(adNameComp, []byte("from-scan-rsp"))
	srR, err := Parse(srp.b)
	require.NoError(t, err)

	adR.Merge(srR)
	assert.Equal(t, "from-scan-rsp", adR.Name)
	assert.True(t, adR.Set.Has(DataName))
}

func (t *testPdu) buildFlagsOnly() []byte {
	t.add(adFlags, []byte{FlagGeneralDiscoverable})
	return t.b
}
