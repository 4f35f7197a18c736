package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"v1.2.3", "1.2.3"},
		{"1.2.3", "1.2.3"},
		{" v1.2.3 ", "1.2.3"},
		{"v2.0.0-beta.1", "2.0.0-beta.1"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeVersion(tt.in), "input %q", tt.in)
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"v1.0.0", "1.0.0", 0},
		{"1.0.1", "1.0.0", 1},
		{"1.0.0", "1.0.1", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.10.0", "1.9.0", 1},
		{"2.0.0-beta.1", "2.0.0", -1},
		{"2.0.0-beta.2", "2.0.0-beta.1", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CompareVersions(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestIsNewerVersion(t *testing.T) {
	assert.True(t, IsNewerVersion("v2.0.0", "1.9.0"))
	assert.False(t, IsNewerVersion("1.9.0", "v1.9.0"), "equal after normalization is up to date")
	assert.False(t, IsNewerVersion("1.8.0", "1.9.0"))
	assert.False(t, IsNewerVersion("2.0.0-beta.1", "2.0.0"), "prerelease sorts below its release")
}
