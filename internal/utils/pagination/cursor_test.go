package pagination_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/matchroom/internal/utils/pagination"
)

func TestCursor_EncodeDecode(t *testing.T) {
	token, err := pagination.Encode(pagination.Cursor{ID: "p-7", CreatedUnix: 1700000000123})
	require.NoError(t, err)

	c, err := pagination.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "p-7", c.ID)
	assert.Equal(t, int64(1700000000123), c.CreatedUnix)
	assert.False(t, c.IsZero())
}

func TestCursor_EmptyTokenIsFirstPage(t *testing.T) {
	c, err := pagination.Decode("")
	require.NoError(t, err)
	assert.True(t, c.IsZero())
}

func TestCursor_RejectsGarbage(t *testing.T) {
	_, err := pagination.Decode("%%%not-base64")
	assert.EqualError(t, err, "invalid pagination token")

	_, err = pagination.Decode("e30=") // {}
	assert.EqualError(t, err, "invalid pagination token")
}
