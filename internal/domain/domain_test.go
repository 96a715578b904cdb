package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetadata_Int(t *testing.T) {
	md := Metadata{"a": 3, "b": int64(4), "c": 5.0, "d": float32(6), "e": "7"}

	for key, want := range map[string]int{"a": 3, "b": 4, "c": 5, "d": 6} {
		got, ok := md.Int(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}
	_, ok := md.Int("e")
	assert.False(t, ok)
	_, ok = md.Int("missing")
	assert.False(t, ok)
}

func TestMetadata_CloneAndString(t *testing.T) {
	var empty Metadata
	c := empty.Clone()
	c["k"] = "v"
	assert.Nil(t, empty)

	md := Metadata{MetaSource: "a.txt", MetaChunkIndex: 1}
	cp := md.Clone()
	cp[MetaSource] = "b.txt"
	assert.Equal(t, "a.txt", md.String(MetaSource))
	assert.Equal(t, "", md.String(MetaChunkIndex))
}
