package browser

import (
	"context"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/domguard/internal/cdp/cdptest"
)

func TestFindChromeExecutableCustomPath(t *testing.T) {
	exe := filepath.Join(t.TempDir(), "my-chrome")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0755))

	got, err := FindChromeExecutable(exe)
	require.NoError(t, err)
	assert.Equal(t, BrowserCustom, got.Kind)
	assert.Equal(t, exe, got.Path)

	_, err = FindChromeExecutable(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorContains(t, err, "not found")

	_, err = FindChromeExecutable(t.TempDir())
	assert.Error(t, err, "a directory is not an executable")
}

func TestInstallCandidatesPerPlatform(t *testing.T) {
	for _, goos := range []string{"linux", "darwin", "windows"} {
		cs := installCandidates(goos)
		assert.NotEmpty(t, cs, goos)
		kinds := map[BrowserKind]bool{}
		for _, c := range cs {
			kinds[c.kind] = true
		}
		assert.True(t, kinds[BrowserChrome], goos)
		assert.True(t, kinds[BrowserEdge], goos)
	}
}

func TestFirstOfKind(t *testing.T) {
	dir := t.TempDir()
	brave := filepath.Join(dir, "brave")
	require.NoError(t, os.WriteFile(brave, nil, 0755))
	cs := []candidate{
		{BrowserChrome, filepath.Join(dir, "chrome")},
		{BrowserBrave, brave},
	}
	assert.Nil(t, firstOfKind(cs, BrowserChrome))
	got := firstOfKind(cs, BrowserBrave)
	require.NotNil(t, got)
	assert.Equal(t, brave, got.Path)
	assert.Equal(t, got, firstExisting(cs))
}

func TestBuildChromeArgs(t *testing.T) {
	args := buildChromeArgs(LaunchOptions{Port: 9333, UserDataDir: "/tmp/profile", Headless: true, NoSandbox: true})
	assert.Contains(t, args, "--remote-debugging-port=9333")
	assert.Contains(t, args, "--user-data-dir=/tmp/profile")
	assert.Contains(t, args, "--headless=new")
	assert.Contains(t, args, "--no-sandbox")
	assert.Equal(t, "about:blank", args[len(args)-1])

	args = buildChromeArgs(LaunchOptions{Port: 9222, UserDataDir: "/tmp/p"})
	assert.NotContains(t, args, "--headless=new")
	assert.NotContains(t, args, "--no-sandbox")
}

func TestLaunchRefusesOccupiedPort(t *testing.T) {
	srv := cdptest.New(t)
	u, err := url.Parse(srv.URL())
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	_, err = StartDetached(context.Background(), LaunchOptions{Port: port, UserDataDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	_, err = Launch(context.Background(), LaunchOptions{Port: port})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestStartDetachedNeedsProfileDir(t *testing.T) {
	exe := filepath.Join(t.TempDir(), "my-chrome")
	require.NoError(t, os.WriteFile(exe, nil, 0755))
	_, err := StartDetached(context.Background(), LaunchOptions{ExecPath: exe, Port: freePort(t)})
	assert.ErrorContains(t, err, "user data dir")
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
