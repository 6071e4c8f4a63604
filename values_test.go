package atomix

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRange(t *testing.T) {
	cases := []struct {
		name       string
		start, end int
		n          int
		wantStart  int
		wantEnd    int
		wantOK     bool
	}{
		{"plain", 2, 5, 10, 2, 5, true},
		{"negative both", -3, -1, 10, 7, 9, true},
		{"end beyond length clamps", 5, 100, 10, 5, 10, true},
		{"start far negative clamps", -100, 2, 10, 0, 2, true},
		{"whole range", -10, 10, 10, 0, 10, true},
		{"start after end", 5, 2, 10, 0, 0, false},
		{"empty selection", 5, 5, 10, 0, 0, false},
		{"zero zero", 0, 0, 10, 0, 0, false},
		{"negative crossing", -1, -3, 10, 0, 0, false},
		{"start at length", 10, 12, 10, 0, 0, false},
		{"empty collection", 0, 5, 0, 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, end, ok := normalizeRange(tc.start, tc.end, tc.n)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantStart, start)
				assert.Equal(t, tc.wantEnd, end)
			}
		})
	}
}

func TestFloorDivMod(t *testing.T) {
	cases := []struct {
		a, b, div, mod int64
	}{
		{7, 2, 3, 1},
		{-7, 2, -4, 1},
		{7, -2, -4, -1},
		{-7, -2, 3, -1},
		{6, 3, 2, 0},
		{-6, 3, -2, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.div, floorDiv(tc.a, tc.b), "floorDiv(%d, %d)", tc.a, tc.b)
		assert.Equal(t, tc.mod, floorMod(tc.a, tc.b), "floorMod(%d, %d)", tc.a, tc.b)
	}
}

func TestIntPow(t *testing.T) {
	assert.Equal(t, int64(1024), intPow(2, 10))
	assert.Equal(t, int64(1), intPow(5, 0))
	assert.Equal(t, int64(-8), intPow(-2, 3))
	assert.Equal(t, int64(0), intPow(2, -1))
}

func TestScalarCodecBytes(t *testing.T) {
	wire, err := dumpScalar(KindBytes, []byte{0x01, 0xff, 0x00})
	require.NoError(t, err)
	assert.IsType(t, "", wire)

	back, err := decodeScalar(KindBytes, wire)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0xff, 0x00}, back)
}

func TestScalarCodecTime(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 589_793_000, time.UTC)
	wire, err := dumpScalar(KindTime, at)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-14T09:26:53.589793Z", wire)

	back, err := decodeScalar(KindTime, wire)
	require.NoError(t, err)
	assert.True(t, at.Equal(back.(time.Time)))
}

func TestScalarCodecTimestamp(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 500_000_000, time.UTC)
	wire, err := dumpScalar(KindTimestamp, at)
	require.NoError(t, err)
	epoch, ok := wire.(float64)
	require.True(t, ok)

	back, err := decodeScalar(KindTimestamp, epoch)
	require.NoError(t, err)
	assert.WithinDuration(t, at, back.(time.Time), time.Microsecond)
}

func TestScalarDecodeRejectsMismatches(t *testing.T) {
	_, err := decodeScalar(KindInt, "five")
	assert.True(t, IsCode(err, Corrupt))

	_, err = decodeScalar(KindInt, 2.5)
	assert.True(t, IsCode(err, Corrupt))

	_, err = decodeScalar(KindTime, "not-a-timestamp")
	assert.True(t, IsCode(err, Corrupt))

	_, err = decodeScalar(KindBytes, "!!! not base64 !!!")
	assert.True(t, IsCode(err, Corrupt))
}

func TestNormalizeScalarCoercions(t *testing.T) {
	v, err := normalizeScalar(KindInt, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	v, err = normalizeScalar(KindFloat, 3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	v, err = normalizeScalar(KindBytes, "raw")
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), v)

	_, err = normalizeScalar(KindInt, "7")
	assert.True(t, IsCode(err, BadArgument))
}
