package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Flags
		wantErr bool
	}{
		{name: "empty string is empty set", input: "", want: 0},
		{name: "remove delivered", input: "remove_delivered", want: FlagRemoveDelivered},
		{name: "token whitespace tolerated", input: " remove_delivered ", want: FlagRemoveDelivered},
		{name: "unknown token rejected", input: "urgent", wantErr: true},
		{name: "unknown among known rejected", input: "remove_delivered,urgent", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFlags(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFlagsRoundTrip(t *testing.T) {
	flags, err := FlagsFromList([]string{"remove_delivered"})
	require.NoError(t, err)
	assert.True(t, flags.Has(FlagRemoveDelivered))

	parsed, err := ParseFlags(flags.String())
	require.NoError(t, err)
	assert.Equal(t, flags, parsed)
}

func TestFlagsEmptySerialization(t *testing.T) {
	assert.Equal(t, "", Flags(0).String())
}
