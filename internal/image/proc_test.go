package image

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadMaps(t *testing.T) {
	regions, err := ReadMaps(os.Getpid())
	require.NoError(t, err)
	require.Greater(t, len(regions), 0)

	hasReadable := false
	for _, region := range regions {
		if strings.Contains(region.Perms, "r") {
			hasReadable = true
			break
		}
	}

	require.True(t, hasReadable)
}

func TestOpenProcessSelf(t *testing.T) {
	pr, err := OpenProcess(os.Getpid())
	require.NoError(t, err)
	defer pr.Close()

	require.NotZero(t, pr.Base())

	var success bool
	for _, region := range pr.regions {
		if !strings.HasPrefix(region.Perms, "r") {
			continue
		}

		if _, err := pr.ReadU32(region.Start); err == nil {
			success = true
			break
		}
	}

	require.True(t, success, "unable to read from any readable memory region")
}

func TestProcessBaseIsExeMapping(t *testing.T) {
	pr, err := OpenProcess(os.Getpid())
	require.NoError(t, err)
	defer pr.Close()

	exe, err := os.Readlink("/proc/self/exe")
	require.NoError(t, err)

	for _, region := range pr.regions {
		if region.Path == exe {
			require.Equal(t, region.Start, pr.Base())
			return
		}
	}

	t.Skip("exe not present in maps")
}
