package pathkey

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_EquivalentPaths(t *testing.T) {
	root := t.TempDir()
	proj := filepath.Join(root, "proj")
	require.NoError(t, os.MkdirAll(filepath.Join(proj, "sub"), 0o755))

	link := filepath.Join(root, "link")
	require.NoError(t, os.Symlink(proj, link))

	n := NewNormalizer(false)
	want, err := n.Normalize(proj)
	require.NoError(t, err)

	for _, raw := range []string{
		proj + string(filepath.Separator),
		proj + string(filepath.Separator) + string(filepath.Separator),
		filepath.Join(proj, "sub", ".."),
		root + "/./proj",
		link,
		link + "/sub/..",
	} {
		got, err := n.Normalize(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestNormalize_RelativePath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "proj"), 0o755))
	t.Chdir(root)

	n := NewNormalizer(false)
	rel, err := n.Normalize("proj")
	require.NoError(t, err)

	abs, err := n.Normalize(filepath.Join(root, "proj"))
	require.NoError(t, err)
	assert.Equal(t, abs, rel)
}

func TestNormalize_Invalid(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	loopA := filepath.Join(root, "a")
	loopB := filepath.Join(root, "b")
	require.NoError(t, os.Symlink(loopB, loopA))
	require.NoError(t, os.Symlink(loopA, loopB))

	broken := filepath.Join(root, "broken")
	require.NoError(t, os.Symlink(filepath.Join(root, "missing"), broken))

	n := NewNormalizer(false)
	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"blank", "   "},
		{"missing", filepath.Join(root, "nope")},
		{"regular file", file},
		{"symlink loop", loopA},
		{"broken symlink", broken},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := n.Normalize(tc.path)
			assert.ErrorIs(t, err, ErrInvalidPath)
		})
	}
}

func TestNormalize_CaseFolding(t *testing.T) {
	root := t.TempDir()
	proj := filepath.Join(root, "MyProj")
	require.NoError(t, os.Mkdir(proj, 0o755))

	sensitive, err := NewNormalizer(false).Normalize(proj)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(sensitive.String(), "MyProj"))

	folded, err := NewNormalizer(true).Normalize(proj)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(sensitive.String()), folded.String())
}

func TestKey_Digest(t *testing.T) {
	a := Key("/tmp/proj")
	assert.Len(t, a.Digest(), 16)
	assert.Equal(t, a.Digest(), Key("/tmp/proj").Digest())
	assert.NotEqual(t, a.Digest(), Key("/tmp/other").Digest())
}
