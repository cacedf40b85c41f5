package cdn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartitionPath(t *testing.T) {
	assert := require.New(t)

	assert.Equal("ab/cd/abcdef0123", PartitionPath("abcdef0123"))
	assert.Equal("00/0f/000f426911a17a4c2ebe53f8e0a01c3d",
		PartitionPath("000f426911a17a4c2ebe53f8e0a01c3d"))
}

func TestItemPaths(t *testing.T) {
	assert := require.New(t)

	key := "abcdef0123"
	assert.Equal("/config/ab/cd/abcdef0123", configItemPath(key))
	assert.Equal("/data/ab/cd/abcdef0123", dataItemPath(key))
	assert.Equal("/data/ab/cd/abcdef0123.index", indexItemPath(key))
}
