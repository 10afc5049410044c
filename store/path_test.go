package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoin(t *testing.T) {
	assert.Equal(t, "/a", Join("/", "a"))
	assert.Equal(t, "/a", Join("", "a"))
	assert.Equal(t, "/a/b", Join("/a", "b"))
	assert.Equal(t, "/a/b/c", Join("/a/b", "c"))
}

func TestParentPath(t *testing.T) {
	assert.Equal(t, "/", ParentPath("/"))
	assert.Equal(t, "/", ParentPath("/a"))
	assert.Equal(t, "/a", ParentPath("/a/b"))
	assert.Equal(t, "/a/b", ParentPath("/a/b/c"))
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "", BaseName("/"))
	assert.Equal(t, "a", BaseName("/a"))
	assert.Equal(t, "c", BaseName("/a/b/c"))
}

func TestComponents(t *testing.T) {
	assert.Nil(t, Components("/"))
	assert.Equal(t, []string{"a"}, Components("/a"))
	assert.Equal(t, []string{"a", "b"}, Components("/a/b"))
}

func TestIsAncestor(t *testing.T) {
	assert.True(t, IsAncestor("/", "/a"))
	assert.True(t, IsAncestor("/a", "/a/b"))
	assert.True(t, IsAncestor("/a", "/a/b/c"))
	assert.False(t, IsAncestor("/a", "/a"))
	assert.False(t, IsAncestor("/a", "/ab"))
	assert.False(t, IsAncestor("/a/b", "/a"))
	assert.False(t, IsAncestor("/", "/"))
}

func TestValueEqual(t *testing.T) {
	assert.True(t, StringValue("x").Equal(StringValue("x")))
	assert.False(t, StringValue("x").Equal(StringValue("y")))
	assert.False(t, StringValue("1").Equal(LongValue(1)))
	assert.True(t, BinaryValue([]byte{1, 2}).Equal(BinaryValue([]byte{1, 2})))
	assert.False(t, BinaryValue([]byte{1, 2}).Equal(BinaryValue([]byte{1})))
	assert.True(t, ReferenceValue("id").Equal(ReferenceValue("id")))
	assert.False(t, ReferenceValue("id").Equal(WeakReferenceValue("id")))
}
