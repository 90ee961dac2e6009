package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindRowsStableOrder(t *testing.T) {
	kinds := map[string]int{
		".xml": 2,
		".bin": 1,
		".wav": 3,
		".ogg": 1,
	}

	expected := [][]string{
		{"Kind .bin", "1"},
		{"Kind .ogg", "1"},
		{"Kind .wav", "3"},
		{"Kind .xml", "2"},
	}

	// Map iteration order varies, the rendered rows must not.
	for i := 0; i < 10; i++ {
		assert.Equal(t, expected, kindRows(kinds))
	}
}

func TestKindRowsEmpty(t *testing.T) {
	assert.Empty(t, kindRows(map[string]int{}))
}
