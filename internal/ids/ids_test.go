package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortableAndUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	prev := ""
	for i := 0; i < 1000; i++ {
		id := New()
		require.True(t, IsULID(id), "not a ulid: %s", id)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
		if prev != "" {
			require.Greater(t, id, prev)
		}
		prev = id
	}
}

func TestParseUser(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"6F9619FF-8B86-D011-B42D-00C04FC964FF", "6f9619ff-8b86-d011-b42d-00c04fc964ff", true},
		{" 0b0e3a36-3c57-4b6e-9d0e-3a1d2c6f5a10 ", "0b0e3a36-3c57-4b6e-9d0e-3a1d2c6f5a10", true},
		{"", "", false},
		{"not-a-uuid", "", false},
		{"00000000-0000-0000-0000-000000000000", "", false},
		{"42", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseUser(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}
