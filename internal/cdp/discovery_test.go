package cdp

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/domguard/internal/cdp/cdptest"
)

func TestVersion(t *testing.T) {
	srv := cdptest.New(t)
	client := &http.Client{Timeout: time.Second}
	defer client.CloseIdleConnections()

	v, err := Version(context.Background(), client, srv.URL())
	require.NoError(t, err)
	assert.Contains(t, v.Browser, "Chrome")
	assert.NotEmpty(t, v.WebSocketDebuggerURL)
	assert.True(t, Reachable(context.Background(), client, srv.URL()))
	assert.False(t, Reachable(context.Background(), client, "http://127.0.0.1:1"))
}

func TestTabLifecycle(t *testing.T) {
	srv := cdptest.New(t)
	client := &http.Client{Timeout: time.Second}
	defer client.CloseIdleConnections()
	ctx := context.Background()

	tab, err := NewTab(ctx, client, srv.URL(), "https://example.com/?q=1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/?q=1", tab.URL)

	ts, err := Targets(ctx, client, srv.URL())
	require.NoError(t, err)
	require.Len(t, ts, 2)

	require.NoError(t, ActivateTab(ctx, client, srv.URL(), tab.ID))
	require.NoError(t, CloseTab(ctx, client, srv.URL(), tab.ID))

	err = CloseTab(ctx, client, srv.URL(), tab.ID)
	require.ErrorIs(t, err, ErrHandshakeFailed)

	ts, err = Targets(ctx, client, srv.URL())
	require.NoError(t, err)
	assert.Len(t, ts, 1)
}

func TestIsLoopbackHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"127.1.2.3", true},
		{"::1", true},
		{"[::1]", true},
		{"0.0.0.0", true},
		{"LOCALHOST", true},
		{"192.168.1.10", false},
		{"example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsLoopbackHost(tt.host), tt.host)
	}
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:9222", BaseURL("127.0.0.1", 9222))
	assert.Equal(t, "http://[::1]:9222", BaseURL("::1", 9222))
}
