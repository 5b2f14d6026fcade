package id

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateBridgeID_LengthAndAlphabet(t *testing.T) {
	v := GenerateBridgeID(8)
	assert.Len(t, v, 8)
	assert.Regexp(t, regexp.MustCompile(`^[a-z0-9]+$`), v)
}

func TestGenerateBridgeID_Unique(t *testing.T) {
	a := GenerateBridgeID(8)
	b := GenerateBridgeID(8)
	assert.NotEqual(t, a, b)
}

func TestNew_Unique(t *testing.T) {
	a := New()
	b := New()
	assert.NotEqual(t, a, b)
}
