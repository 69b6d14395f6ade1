package tcp

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAllowlist(t *testing.T) {
	a, err := ParseAllowlist([]string{"127.0.0.1", " 10.0.0.5 ", "192.168.7.0/24", "::1", ""})
	require.NoError(t, err)
	assert.Equal(t, 4, a.Len())

	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.0.0.5", true},
		{"10.0.0.9", false},
		{"192.168.7.200", true},
		{"192.168.8.1", false},
		{"::1", true},
		{"::ffff:127.0.0.1", true},
		{"173.68.217.169", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, a.Allows(netip.MustParseAddr(tt.ip)), tt.ip)
	}
}

func TestParseAllowlist_Invalid(t *testing.T) {
	_, err := ParseAllowlist([]string{"not-an-ip"})
	assert.Error(t, err)

	_, err = ParseAllowlist([]string{"10.0.0.0/33"})
	assert.Error(t, err)
}

func TestAllowlist_EmptyAdmitsNobody(t *testing.T) {
	a, err := ParseAllowlist(nil)
	require.NoError(t, err)

	assert.False(t, a.Allows(netip.MustParseAddr("127.0.0.1")))

	var nilList *Allowlist
	assert.False(t, nilList.Allows(netip.MustParseAddr("127.0.0.1")))
	assert.False(t, a.Allows(netip.Addr{}))
}

func TestAllowlist_AllowsRemote(t *testing.T) {
	a, err := ParseAllowlist([]string{"10.0.0.5"})
	require.NoError(t, err)

	assert.True(t, a.AllowsRemote(&net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 5000}))
	assert.False(t, a.AllowsRemote(&net.TCPAddr{IP: net.ParseIP("10.0.0.9"), Port: 5000}))
	assert.True(t, a.AllowsRemote(&net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 5000}))
	assert.False(t, a.AllowsRemote(nil))
}
