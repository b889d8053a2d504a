package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type valueErr struct{}

func (valueErr) Error() string { return "bad value" }
func (valueErr) Kind() Kind    { return Value }

func TestKindOfWalksWrappedChain(t *testing.T) {
	err := fmt.Errorf("set Foo: %w", valueErr{})
	require.Equal(t, Value, KindOf(err))
	require.True(t, Fatal(err))
}

func TestKindOfUnclassified(t *testing.T) {
	require.Equal(t, Unknown, KindOf(errors.New("plain")))
	require.Equal(t, Unknown, KindOf(nil))
	require.False(t, Fatal(nil))
}
