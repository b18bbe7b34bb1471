package microfw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Version
	}{
		{"", Version{}},
		{"1", Version{Major: 1}},
		{"1.2", Version{Major: 1, Minor: 2}},
		{"1.2.3", Version{Major: 1, Minor: 2, Micro: 3}},
		{"1.2.3.rc1", Version{Major: 1, Minor: 2, Micro: 3, Qualifier: "rc1"}},
		{"0.0.0", Version{}},
	}
	for _, tt := range tests {
		got, err := ParseVersion(tt.in)
		require.NoError(t, err, "version %q", tt.in)
		assert.Equal(t, tt.want, got, "version %q", tt.in)
	}

	for _, bad := range []string{"a", "1.b", "1.2.c", "-1.0.0", "1.2.3."} {
		_, err := ParseVersion(bad)
		assert.ErrorIs(t, err, ErrInvalidVersion, "version %q should not parse", bad)
	}
}

func TestVersionCompareAndString(t *testing.T) {
	t.Parallel()

	v123, err := ParseVersion("1.2.3")
	require.NoError(t, err)
	v124, err := ParseVersion("1.2.4")
	require.NoError(t, err)
	v2, err := ParseVersion("2.0.0")
	require.NoError(t, err)
	rc, err := ParseVersion("1.2.3.rc1")
	require.NoError(t, err)

	assert.Equal(t, 0, v123.Compare(v123))
	assert.Equal(t, -1, v123.Compare(v124))
	assert.Equal(t, 1, v2.Compare(v124))
	assert.Equal(t, -1, v123.Compare(rc), "qualifier compares lexically after numerics")

	assert.Equal(t, "1.2.3", v123.String())
	assert.Equal(t, "1.2.3.rc1", rc.String())
}
