package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandPerPlatform(t *testing.T) {
	ctx := context.Background()

	mac := command(ctx, "darwin", "DOMGuard", "Solve the CAPTCHA")
	require.NotNil(t, mac)
	assert.Equal(t, "osascript", mac.Args[0])
	assert.Contains(t, mac.Args[2], `with title "DOMGuard"`)

	linux := command(ctx, "linux", "DOMGuard", "Solve the CAPTCHA")
	require.NotNil(t, linux)
	assert.Equal(t, []string{"notify-send", "--app-name=DOMGuard", "DOMGuard", "Solve the CAPTCHA"}, linux.Args)

	win := command(ctx, "windows", "DOMGuard", "Solve the CAPTCHA")
	require.NotNil(t, win)
	assert.Equal(t, "powershell", win.Args[0])
	assert.Contains(t, win.Args[len(win.Args)-1], "CreateToastNotifier('DOMGuard')")

	assert.Nil(t, command(ctx, "plan9", "a", "b"))
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "it’s a test", sanitize(`it's a \test`))
	assert.Equal(t, "line one line two", sanitize("line one\nline two"))

	long := sanitize(strings.Repeat("x", 300))
	assert.Len(t, long, maxLen+3)
	assert.True(t, strings.HasSuffix(long, "..."))
}
