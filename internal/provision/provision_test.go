package provision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quatrix/fleet/internal/exec"
)

type fakeExecutor struct {
	lookPathErr error
	runErr      error
	exitCode    int
	output      string

	gotName string
	gotArgs []string
}

func (f *fakeExecutor) Run(ctx context.Context, opts exec.RunOptions) (*exec.Result, error) {
	f.gotName = opts.Name
	f.gotArgs = opts.Args
	if opts.Stdout != nil && f.output != "" {
		_, _ = opts.Stdout.Write([]byte(f.output))
	}
	return &exec.Result{ExitCode: f.exitCode}, f.runErr
}

func (f *fakeExecutor) LookPath(name string) (string, error) {
	if f.lookPathErr != nil {
		return "", f.lookPathErr
	}
	return "/usr/bin/" + name, nil
}

func TestProvisioner_EnsureInstalled(t *testing.T) {
	ctx := context.Background()

	t.Run("builds the steamcmd invocation", func(t *testing.T) {
		fake := &fakeExecutor{}
		p := New(fake)
		dir := filepath.Join(t.TempDir(), "srv-1")

		err := p.EnsureInstalled(ctx, dir, nil)
		require.NoError(t, err)

		assert.Equal(t, "steamcmd", fake.gotName)
		assert.Equal(t, []string{
			"+force_install_dir", dir,
			"+login", "anonymous",
			"+app_update", "730", "validate",
			"+quit",
		}, fake.gotArgs)
		assert.DirExists(t, dir)
	})

	t.Run("honors binary and app id overrides", func(t *testing.T) {
		fake := &fakeExecutor{}
		p := New(fake, WithBinary("/opt/steamcmd/steamcmd.sh"), WithAppID(740))

		err := p.EnsureInstalled(ctx, t.TempDir(), nil)
		require.NoError(t, err)

		assert.Equal(t, "/opt/steamcmd/steamcmd.sh", fake.gotName)
		assert.Contains(t, fake.gotArgs, "740")
	})

	t.Run("streams progress lines", func(t *testing.T) {
		fake := &fakeExecutor{
			output: "Update state (0x61) downloading, progress: 42.27 (116 / 274)\r" +
				"Update state (0x61) downloading, progress: 97.50 (267 / 274)\n" +
				"Success! App '730' fully installed.\n",
		}
		p := New(fake)

		var got []Progress
		err := p.EnsureInstalled(ctx, t.TempDir(), func(pr Progress) {
			got = append(got, pr)
		})
		require.NoError(t, err)

		require.Len(t, got, 3)
		assert.InDelta(t, 42.27, got[0].Percent, 0.001)
		assert.InDelta(t, 97.50, got[1].Percent, 0.001)
		assert.Equal(t, float64(-1), got[2].Percent)
		assert.Equal(t, "Success! App '730' fully installed.", got[2].Line)
	})

	t.Run("wraps non-zero exits in InstallError", func(t *testing.T) {
		fake := &fakeExecutor{runErr: errors.New("exit status 8"), exitCode: 8}
		p := New(fake)
		dir := t.TempDir()

		err := p.EnsureInstalled(ctx, dir, nil)

		var installErr *InstallError
		require.ErrorAs(t, err, &installErr)
		assert.Equal(t, dir, installErr.Dir)
		assert.Equal(t, 8, installErr.ExitCode)
	})

	t.Run("fails fast when steamcmd is missing", func(t *testing.T) {
		fake := &fakeExecutor{lookPathErr: os.ErrNotExist}
		p := New(fake)

		err := p.EnsureInstalled(ctx, t.TempDir(), nil)
		assert.ErrorIs(t, err, ErrSteamCMDNotFound)
	})
}

func TestParsePercent(t *testing.T) {
	assert.InDelta(t, 42.27, parsePercent("Update state (0x61) downloading, progress: 42.27 (1 / 2)"), 0.001)
	assert.InDelta(t, 100.0, parsePercent("Update state (0x81) verifying update, progress: 100 (2 / 2)"), 0.001)
	assert.Equal(t, float64(-1), parsePercent("Redirecting stderr to console"))
}
