package netguard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPrivate(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"127.0.0.1", true},
		{"169.254.169.254", true},
		{"::1", true},
		{"fd00::1", true},
		{"fe80::1", true},
		{"::ffff:10.0.0.1", true},
		{"0.0.0.0", true},
		{"8.8.8.8", false},
		{"2001:4860:4860::8888", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPrivate(netip.MustParseAddr(tt.addr)))
		})
	}
}

func TestControl(t *testing.T) {
	assert.ErrorIs(t, Control("tcp4", "127.0.0.1:80", nil), ErrPrivateAddress)
	assert.ErrorIs(t, Control("tcp6", "[::1]:443", nil), ErrPrivateAddress)
	assert.ErrorIs(t, Control("tcp", "not-an-address", nil), ErrPrivateAddress)
	assert.NoError(t, Control("tcp4", "93.184.215.14:443", nil))
}

func TestCheckHost(t *testing.T) {
	assert.ErrorIs(t, CheckHost(context.Background(), "127.0.0.1"), ErrPrivateAddress)
	assert.ErrorIs(t, CheckHost(context.Background(), "::1"), ErrPrivateAddress)
}

func TestTransport_RefusesLoopback(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	client := &http.Client{Transport: Transport()}
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPrivateAddress)
	assert.Zero(t, hits)
}
