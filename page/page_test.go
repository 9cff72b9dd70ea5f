package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewImageZeroedAtRequestedSize(t *testing.T) {
	im := NewImage(4096)
	require.Equal(t, 4096, im.Size)
	require.Len(t, im.Data, 4096)
	for _, b := range im.Data {
		require.Zero(t, b)
	}
}

func TestTagRoundTrip(t *testing.T) {
	im := NewImage(64)
	require.Equal(t, TagInvalid, im.Tag())

	im.SetTag(TagDocData)
	require.Equal(t, TagDocData, im.Tag())

	im.SetTag(TagCacheFinal)
	require.Equal(t, TagCacheFinal, im.Tag())
}

func TestTagOnEmptyImageIsInvalid(t *testing.T) {
	im := &Image{}
	require.Equal(t, TagInvalid, im.Tag())
}

func TestValidateSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"below minimum", MinSize - 1, true},
		{"at minimum", MinSize, false},
		{"typical", 8192, false},
		{"at maximum", MaxSize, false},
		{"above maximum", MaxSize + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSize(tt.size)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLocationIsComparable(t *testing.T) {
	a := Location{Fileno: 1, Offset: 4096}
	b := Location{Fileno: 1, Offset: 4096}
	c := Location{Fileno: 2, Offset: 4096}
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}
