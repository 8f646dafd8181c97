package storetype_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eventledger/eventledger/errs"
	"github.com/eventledger/eventledger/storetype"
)

func TestResolveFallsBackToDefault(t *testing.T) {
	r := storetype.NewRegistry[string]("blob")
	r.Register("blob", "blob-impl")
	r.Register("GCS", "gcs-impl")

	v, err := r.Resolve("")
	require.NoError(t, err)
	require.Equal(t, "blob-impl", v)

	v, err = r.Resolve("gcs")
	require.NoError(t, err)
	require.Equal(t, "gcs-impl", v)
}

func TestResolveUnknownType(t *testing.T) {
	r := storetype.NewRegistry[string]("blob")
	r.Register("blob", "blob-impl")

	_, err := r.Resolve("dynamodb")
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.KindUnknownStoreType))
}

func TestResolveChainPrecedence(t *testing.T) {
	r := storetype.NewRegistry[string]("blob")
	r.Register("blob", "blob-impl")
	r.Register("gcs", "gcs-impl")

	v, err := r.ResolveChain("gcs", "unused-connection-name")
	require.NoError(t, err)
	require.Equal(t, "gcs-impl", v, "DataStore candidate wins over StreamConnectionName")

	v, err = r.ResolveChain("", "gcs")
	require.NoError(t, err)
	require.Equal(t, "gcs-impl", v, "falls through to StreamConnectionName when DataStore is empty")

	v, err = r.ResolveChain("", "")
	require.NoError(t, err)
	require.Equal(t, "blob-impl", v, "falls through to the registry default when every candidate is empty")
}
