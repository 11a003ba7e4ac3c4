package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/axiom/internal/shared/fserr"
)

func TestSignatureValidate(t *testing.T) {
	sig := Signature{Params: []Param{
		{Name: "name", Type: TypeString, Required: true},
		{Name: "count", Type: TypeNumber, Default: 1},
		{Name: "verbose", Type: TypeBool},
	}}

	t.Run("defaults", func(t *testing.T) {
		out, err := sig.Validate(Arg{"name": "x"})
		require.NoError(t, err)
		assert.Equal(t, Arg{"name": "x", "count": 1}, out)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := sig.Validate(Arg{"count": 2})
		require.Error(t, err)
		assert.True(t, fserr.Is(err, fserr.KindMissing))
		assert.Equal(t, "name", fserr.From(err).Field("field"))
	})

	t.Run("type mismatch", func(t *testing.T) {
		_, err := sig.Validate(Arg{"name": "x", "count": "two"})
		assert.True(t, fserr.Is(err, fserr.KindTypeMismatch))
	})

	t.Run("wire numbers", func(t *testing.T) {
		_, err := sig.Validate(Arg{"name": "x", "count": float64(2)})
		assert.NoError(t, err)
		_, err = sig.Validate(Arg{"name": "x", "count": uint64(2)})
		assert.NoError(t, err)
	})

	t.Run("unknown argument", func(t *testing.T) {
		_, err := sig.Validate(Arg{"name": "x", "color": "red"})
		assert.True(t, fserr.Is(err, fserr.KindInvalid))

		open := sig
		open.Extra = true
		out, err := open.Validate(Arg{"name": "x", "color": "red"})
		require.NoError(t, err)
		assert.Equal(t, "red", out["color"])
	})
}
