package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkPages(t *testing.T) {
	c := Chunk{
		PageNumber: 2,
		Pages: []PageSpan{
			{Page: 2, Start: 0, End: 10},
			{Page: 3, Start: 12, End: 30},
		},
	}

	assert.Equal(t, 2, c.PageAt(0))
	assert.Equal(t, 2, c.PageAt(9))
	// 页间连接符归入下一页
	assert.Equal(t, 3, c.PageAt(10))
	assert.Equal(t, 3, c.PageAt(12))
	assert.Equal(t, 2, c.PageAt(30))

	first, last := c.PageRange()
	assert.Equal(t, 2, first)
	assert.Equal(t, 3, last)
	assert.True(t, c.CoversPage(3))
	assert.False(t, c.CoversPage(4))

	single := Chunk{PageNumber: 5}
	assert.Equal(t, 5, single.PageAt(100))
	first, last = single.PageRange()
	assert.Equal(t, 5, first)
	assert.Equal(t, 5, last)
}
