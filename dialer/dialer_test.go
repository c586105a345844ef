package dialer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxbridge/phone-agent/types"
)

func testDialer(cfg Config) *Dialer {
	return New(nil, nil, cfg)
}

func TestDestinationURI(t *testing.T) {
	d := testDialer(Config{OutboundHost: "trunk.example.com", OutboundPort: 5080, DialPrefix: "9"})

	uri := d.destinationURI("+15551234567")
	assert.Equal(t, "915551234567", uri.User)
	assert.Equal(t, "trunk.example.com", uri.Host)
	assert.Equal(t, 5080, uri.Port)

	d = testDialer(Config{OutboundHost: "trunk.example.com"})
	uri = d.destinationURI(" 7001 ")
	assert.Equal(t, "7001", uri.User)
	assert.Equal(t, 5060, uri.Port)
}

func TestCredentialsPreferDevice(t *testing.T) {
	d := testDialer(Config{DefaultUser: "trunk", DefaultPass: "tpass"})

	user, pass := d.credentials(&types.DeviceConfig{SIPUser: "assistant", SIPPassword: "apass"})
	assert.Equal(t, "assistant", user)
	assert.Equal(t, "apass", pass)

	user, pass = d.credentials(&types.DeviceConfig{Name: "no creds"})
	assert.Equal(t, "trunk", user)
	assert.Equal(t, "tpass", pass)

	user, pass = d.credentials(nil)
	assert.Equal(t, "trunk", user)
	assert.Equal(t, "tpass", pass)
}

func TestIdentityHeaders(t *testing.T) {
	d := testDialer(Config{OutboundHost: "pbx.local"})

	hdrs := d.identityHeaders(Request{
		CallerID: "1001",
		Device:   &types.DeviceConfig{Name: "Assistant", Extension: "7000"},
	})
	require.Len(t, hdrs, 2)
	assert.Equal(t, `"Assistant" <sip:7000@pbx.local>`, hdrs[0].Value())
	assert.Equal(t, "1001", hdrs[1].Value())

	assert.Empty(t, d.identityHeaders(Request{CallerID: "1001"}))
}
