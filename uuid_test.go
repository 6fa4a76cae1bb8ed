package bthost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReverse(t *testing.T) {
	assert.Equal(t, []byte{}, Reverse(nil))
	assert.Equal(t, []byte{}, Reverse([]byte{}))
	assert.Equal(t, []byte{0x2a}, Reverse([]byte{0x2a}))
	assert.Equal(t, []byte{0x18, 0x0d}, Reverse([]byte{0x0d, 0x18}))
	assert.Equal(t,
		[]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		Reverse([]byte{16, 15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}))
}

func TestParseUUID(t *testing.T) {
	u := MustParseUUID("2a00")
	assert.True(t, u.Equal(DeviceNameUUID))
	assert.Equal(t, "2a00", u.String())

	long := MustParseUUID("F0000000-0451-4000-B000-000000000000")
	assert.Equal(t, 16, long.Len())
	assert.Equal(t, "f000000004514000b000000000000000", long.String())
}
