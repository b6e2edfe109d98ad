//go:build !release

package assert_test

import (
	"testing"

	"github.com/argus-labs/beacon/pkg/assert"
	"github.com/stretchr/testify/require"
)

func TestThat(t *testing.T) {
	t.Parallel()

	require.NotPanics(t, func() { assert.That(true, "never") })
	require.PanicsWithValue(t, "invariant violated: gold is -1", func() {
		assert.That(false, "gold is %d", -1)
	})
}
