package kasaClient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeNickname(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"TGl2aW5nIHJvb20=", "Living room"},
		{"S8O8Y2hl", "Küche"},
		{"S3VjaGU=", "Kuche"},
		// plain names that happen to be valid base64
		{"Door", "Door"},
		{"Bath", "Bath"},
		{"Hall", "Hall"},
		{"Attic", "Attic"},
		{"", ""},
		{nil, ""},
		{42, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, decodeNickname(tt.in), "%v", tt.in)
	}
}
