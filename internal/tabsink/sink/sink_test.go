package sink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionalArgs(t *testing.T) {
	tests := map[string]struct {
		payload  any
		expected []any
		isValid  bool
	}{
		"strings": {
			payload:  []string{"1", "alice"},
			expected: []any{"1", "alice"},
			isValid:  true,
		},
		"already args": {
			payload:  []any{1, "alice", nil},
			expected: []any{1, "alice", nil},
			isValid:  true,
		},
		"keyed": {
			payload: KeyedPayload{Key: "1", Values: map[string]string{"name": "alice"}},
			isValid: false,
		},
		"named": {
			payload: map[string]string{"name": "alice"},
			isValid: false,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			args, err := PositionalArgs(tc.payload)
			if tc.isValid {
				require.NoError(t, err)
				assert.Equal(t, tc.expected, args)
			} else {
				assert.ErrorIs(t, err, ErrUnsupportedPayload)
			}
		})
	}
}

func TestOptions(t *testing.T) {
	options := Options{"timeout": "5s", "ttl": "soon", "requireRowsAffected": "true", "other": "no"}
	assert.Equal(t, 5*time.Second, options.Duration("timeout"))
	assert.Equal(t, time.Duration(0), options.Duration("ttl"))
	assert.Equal(t, time.Duration(0), options.Duration("missing"))
	assert.True(t, options.Bool("requireRowsAffected"))
	assert.False(t, options.Bool("other"))
	assert.False(t, Options(nil).Bool("requireRowsAffected"))
}
