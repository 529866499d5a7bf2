package cmdrunner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeArgs(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name        string
		args        []string
		want        []string
		expectError bool
	}{
		{
			name: "plain device paths",
			args: []string{"/dev/sda", "/dev/sdb"},
			want: []string{"/dev/sda", "/dev/sdb"},
		},
		{
			name: "flags and key=value options",
			args: []string{"--create", "--level=raid1", "--raid-devices=2", "--bitmap=internal"},
			want: []string{"--create", "--level=raid1", "--raid-devices=2", "--bitmap=internal"},
		},
		{
			name: "shell metacharacters stripped",
			args: []string{"/dev/sda; rm -rf /"},
			want: []string{"/dev/sdarm-rf/"},
		},
		{
			name:        "argument that sanitizes to empty is fatal",
			args:        []string{"$(`)"},
			expectError: true,
		},
		{
			name: "empty argument stays empty",
			args: []string{""},
			want: []string{""},
		},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := SanitizeArgs(tc.args)
			if tc.expectError {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnsafeArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRunRejectsUnknownTool(t *testing.T) {
	t.Parallel()

	client := New()
	_, _, err := client.Run(context.Background(), "curl", "http://example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolNotAllowed)
}

func TestRunRejectsPathTraversalToAllowedName(t *testing.T) {
	t.Parallel()

	client := New()
	// basename 在白名单中，但执行时只用 basename + 固定 PATH，
	// 调用方给出的目录部分不生效
	_, _, err := client.Run(context.Background(), "/tmp/evil/../../usr/bin/rsync")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolNotAllowed)
}

func TestRunRejectsEmptyArgv(t *testing.T) {
	t.Parallel()

	client := New()
	_, _, err := client.Run(context.Background())
	require.Error(t, err)
}

func TestRunRejectsUnsafeArgumentBeforeExecuting(t *testing.T) {
	t.Parallel()

	client := New()
	_, _, err := client.Run(context.Background(), "lsblk", "$()")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsafeArgument)
}
