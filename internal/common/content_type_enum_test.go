package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMediaFileType_String(t *testing.T) {
	assert.Equal(t, "image", MediaFileTypeImage.String())
	assert.Equal(t, "video", MediaFileTypeVideo.String())
}

func TestMediaFileType_IsValid(t *testing.T) {
	assert.True(t, MediaFileTypeImage.IsValid())
	assert.True(t, MediaFileTypeVideo.IsValid())
	assert.False(t, MediaFileTypeUnknown.IsValid())
	assert.False(t, MediaFileType("invalid").IsValid())
}

func TestDetectFileType(t *testing.T) {
	cases := []struct {
		input    string
		expected MediaFileType
	}{
		{"image/jpeg", MediaFileTypeImage},
		{"image/webp", MediaFileTypeImage},
		{"IMAGE/PNG", MediaFileTypeImage},
		{" image/gif ", MediaFileTypeImage},
		{"video/mp4", MediaFileTypeVideo},
		{"Video/WEBM", MediaFileTypeVideo},
		{"application/pdf", MediaFileTypeUnknown},
		{"text/plain", MediaFileTypeUnknown},
		{"", MediaFileTypeUnknown},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, DetectFileType(tc.input), "Failed for MIME type: %q", tc.input)
	}
}
