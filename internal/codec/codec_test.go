package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Name string
	Age  int
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := sample{Name: "ada", Age: 36}
	b, err := Encode(want)
	require.NoError(t, err)

	got, err := Decode[sample](b)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDecodeIgnoresTrailingZeroPadding(t *testing.T) {
	want := sample{Name: "grace", Age: 85}
	b, err := Encode(want)
	require.NoError(t, err)

	padded := make([]byte, len(b)+64)
	copy(padded, b)

	got, err := Decode[sample](padded)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestHashKeyDeterministic(t *testing.T) {
	h1, err := HashKey("alpha")
	require.NoError(t, err)
	h2, err := HashKey("alpha")
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	h3, err := HashKey("beta")
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}
