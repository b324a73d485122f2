package slug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Tapis Berbère Beni Ouarain", "tapis-berbere-beni-ouarain"},
		{"Théière  en Argent!", "theiere-en-argent"},
		{"  42 ", "42"},
		{"handwoven-rug", "handwoven-rug"},
		{"Handwoven_Rug", "handwoven-rug"},
		{"--Leather--Pouf--", "leather-pouf"},
		{"6F9619FF-8B86-D011-B42D-00C04FC964FF", "6f9619ff-8b86-d011-b42d-00c04fc964ff"},
		{"Œuvre d'art", "oeuvre-d-art"},
		{"", ""},
		{"!!!", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Generate(tt.in))
		})
	}
}

func TestIsCanonical(t *testing.T) {
	assert.True(t, IsCanonical("atlas-rug"))
	assert.True(t, IsCanonical("17"))
	assert.False(t, IsCanonical("Atlas Rug"))
	assert.False(t, IsCanonical(""))
}
