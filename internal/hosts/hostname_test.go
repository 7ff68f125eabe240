package hosts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeHostname(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "example.com", want: "example.com"},
		{in: "  Example.COM ", want: "example.com"},
		{in: "https://www.example.com/blog?x=1", want: "www.example.com"},
		{in: "http://example.com:8080", want: "example.com"},
		{in: "example.com:443", want: "example.com"},
		{in: "example.com/path", want: "example.com"},
		{in: "example.com.", want: "example.com"},
		{in: "localhost", want: "localhost"},
		{in: "my-site.co.uk", want: "my-site.co.uk"},
		{in: "", wantErr: true},
		{in: "https://", wantErr: true},
		{in: "-bad.com", wantErr: true},
		{in: "bad-.com", wantErr: true},
		{in: "a..b", wantErr: true},
		{in: "under_score.com", wantErr: true},
		{in: "<script>.com", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeHostname(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidHostname)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
