package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wishub/skillhub/artifact"
)

func TestPutThenFetchRoundTrips(t *testing.T) {
	s := New()
	ctx := context.Background()

	ptr, err := s.Put(ctx, "greeter", "1.0.0", "py", []byte("print('hi')"))
	require.NoError(t, err)
	require.Equal(t, "greeter/1.0.0/skill.py", ptr)

	got, err := s.Fetch(ctx, ptr)
	require.NoError(t, err)
	require.Equal(t, "print('hi')", string(got))
}

func TestFetchUnknownPointerReturnsNotFoundError(t *testing.T) {
	s := New()
	_, err := s.Fetch(context.Background(), "ghost/1.0.0/skill.py")
	require.Error(t, err)
	var nf *artifact.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestDeleteRemovesOnlyTheRequestedVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Put(ctx, "greeter", "1.0.0", "py", []byte("a"))
	require.NoError(t, err)
	_, err = s.Put(ctx, "greeter", "2.0.0", "py", []byte("b"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "greeter", "1.0.0"))

	_, err = s.Fetch(ctx, "greeter/1.0.0/skill.py")
	require.Error(t, err)

	got, err := s.Fetch(ctx, "greeter/2.0.0/skill.py")
	require.NoError(t, err)
	require.Equal(t, "b", string(got))
}

func TestFetchReturnsACopyNotAnAlias(t *testing.T) {
	s := New()
	ctx := context.Background()
	ptr, err := s.Put(ctx, "x", "1.0.0", "py", []byte("original"))
	require.NoError(t, err)

	got, err := s.Fetch(ctx, ptr)
	require.NoError(t, err)
	got[0] = 'X'

	fresh, err := s.Fetch(ctx, ptr)
	require.NoError(t, err)
	require.Equal(t, "original", string(fresh), "mutating a fetched blob must not affect the store")
}
