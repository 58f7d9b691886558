package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveRoots(t *testing.T) {
	os.Unsetenv("PC_INSTALL_ROOT")
	os.Unsetenv("PC_DATA_ROOT")
	assert.Equal(t, DefaultInstallRoot, ResolveInstallRoot())
	assert.Equal(t, DefaultDataRoot, ResolveDataRoot())

	os.Setenv("PC_INSTALL_ROOT", "/custom/install")
	os.Setenv("PC_DATA_ROOT", "/custom/data")
	defer os.Unsetenv("PC_INSTALL_ROOT")
	defer os.Unsetenv("PC_DATA_ROOT")
	assert.Equal(t, "/custom/install", ResolveInstallRoot())
	assert.Equal(t, "/custom/data", ResolveDataRoot())
}

func TestSafeJoin(t *testing.T) {
	base := "/var/lib/peoplecount"

	cases := []struct {
		name     string
		elements []string
		valid    bool
	}{
		{"normal", []string{"gallery", "snapshot.json"}, true},
		{"parent", []string{"..", "other"}, false},
		{"nested_parent", []string{"gallery", "..", "..", "secrets"}, false},
		{"absolute", []string{"/etc/passwd"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := SafeJoin(base, tc.elements...)
			if tc.valid {
				assert.NoError(t, err)
				assert.Contains(t, res, base)
			} else {
				if assert.Error(t, err) {
					assert.Contains(t, err.Error(), "traversal")
				}
			}
		})
	}
}

func TestEnsureDirs(t *testing.T) {
	tmpRoot := filepath.Join(os.TempDir(), "peoplecount_test_data")
	os.Setenv("PC_DATA_ROOT", tmpRoot)
	defer os.Unsetenv("PC_DATA_ROOT")
	defer os.RemoveAll(tmpRoot)

	err := EnsureDirs()
	assert.NoError(t, err)

	subdirs := []string{"config", "gallery", "logs", "tmp"}
	for _, sub := range subdirs {
		_, err := os.Stat(filepath.Join(tmpRoot, sub))
		assert.NoError(t, err, "subdirectory %s should exist", sub)
	}
}
