package vtoken_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eventledger/eventledger/vtoken"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tok := vtoken.Token{ObjectName: "order", ObjectID: "o-1", StreamID: "o-1", Version: 42}

	encoded := tok.Encode()
	require.Equal(t, "order__o-1__o-1__00000000000000000042", encoded)
	require.Equal(t, encoded, tok.String())

	decoded, err := vtoken.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, tok, decoded)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := vtoken.Decode("order__o-1__o-1")
	require.Error(t, err)

	_, err = vtoken.Decode("order__o-1__o-1__notanumber")
	require.Error(t, err)
}

func TestObjectIdentifier(t *testing.T) {
	require.Equal(t, "order__o-1", vtoken.ObjectIdentifier("order", "o-1"))
}
