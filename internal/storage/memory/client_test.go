package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrafts(t *testing.T) {
	ctx := context.Background()
	c := New()

	got, err := c.GetDraft(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, c.SetDraft(ctx, 1, "half a thought"))
	require.NoError(t, c.SetDraft(ctx, 2, "other"))
	got, err = c.GetDraft(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "half a thought", got)

	require.NoError(t, c.SetDraft(ctx, 1, ""))
	assert.Equal(t, 1, c.Len(), "empty draft deletes the record")

	require.NoError(t, c.DeleteDraft(ctx, 2))
	assert.Equal(t, 0, c.Len())
}
