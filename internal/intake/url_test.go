package intake

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fetchgate/internal/media"
)

func TestURLFilterExtract(t *testing.T) {
	t.Parallel()

	shorts, err := NewURLFilter([]string{`youtube\.com/shorts/`})
	require.NoError(t, err)
	anyURL, err := NewURLFilter(nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		filter  *URLFilter
		text    string
		want    string
		wantErr string
	}{
		{"bare link", shorts, "https://www.youtube.com/shorts/abc123", "https://www.youtube.com/shorts/abc123", ""},
		{"link in sentence", shorts, "look at this https://youtube.com/shorts/xyz!", "https://youtube.com/shorts/xyz", ""},
		{"second link matches", shorts, "https://example.com/a and https://youtube.com/shorts/q", "https://youtube.com/shorts/q", ""},
		{"no link", shorts, "hello there", "", "no link found"},
		{"wrong site", shorts, "https://vimeo.com/123", "", "not supported"},
		{"ftp ignored", anyURL, "ftp://example.com/file", "", "no link found"},
		{"any http link", anyURL, "http://example.com/v.mp4", "http://example.com/v.mp4", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.filter.Extract(tt.text)
			if tt.wantErr != "" {
				var validation *media.ValidationError
				require.ErrorAs(t, err, &validation)
				require.Contains(t, validation.Reason, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNewURLFilterRejectsBadPattern(t *testing.T) {
	t.Parallel()

	_, err := NewURLFilter([]string{"("})
	require.Error(t, err)
}
