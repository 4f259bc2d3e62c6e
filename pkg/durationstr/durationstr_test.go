package durationstr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMillis(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int64
		wantErr bool
	}{
		{name: "hours with decimal", in: "1.5h", want: 5_400_000},
		{name: "seconds", in: "30s", want: 30_000},
		{name: "days", in: "2d", want: 2 * 24 * 60 * 60 * 1000},
		{name: "minutes with whitespace", in: " 5 m", want: 300_000},
		{name: "zero seconds rejected", in: "0s", wantErr: true},
		{name: "negative rejected", in: "-1m", wantErr: true},
		{name: "empty rejected", in: "", wantErr: true},
		{name: "unsupported unit ms", in: "500ms", wantErr: true},
		{name: "unsupported unit weeks", in: "1w", wantErr: true},
		{name: "garbage", in: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMillis(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
