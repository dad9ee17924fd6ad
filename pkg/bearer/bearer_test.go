package bearer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{name: "valid", header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "empty", header: "", wantErr: ErrMissing},
		{name: "lowercase scheme", header: "bearer abc", wantErr: ErrMalformed},
		{name: "no token", header: "Bearer ", wantErr: ErrMalformed},
		{name: "double space", header: "Bearer  abc", wantErr: ErrMalformed},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantErr: ErrMalformed},
		{name: "trailing junk", header: "Bearer abc def", wantErr: ErrMalformed},
		{name: "scheme only", header: "Bearer", wantErr: ErrMalformed},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := FromHeader(tt.header)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHeader(t *testing.T) {
	tok, err := FromHeader(Header("xyz"))
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)
}
