package bindingfile_test

import (
	"strings"
	"testing"

	"github.com/grnet/tapdhcpd/internal/bindingfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	const content = `MAC=52:54:00:12:34:56
IP=10.0.0.7
LINK=br0
HOSTNAME=vm7.example.org
# a comment line without an equals sign is ignored
GARBAGE
UNKNOWN=ignored
`

	f, err := bindingfile.Parse(strings.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, "52:54:00:12:34:56", f.MAC)
	assert.Equal(t, []string{"10.0.0.7"}, f.IPs)
	assert.Equal(t, "br0", f.Link)
	assert.Equal(t, "vm7.example.org", f.Hostname)
}

func TestFields_Client(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		f := bindingfile.Fields{
			MAC:      "52:54:00:12:34:56",
			IPs:      []string{"10.0.0.7"},
			Link:     "br0",
			Hostname: "vm7.example.org",
		}

		c, ok := f.Client("tap0")
		require.True(t, ok)

		assert.Equal(t, "52:54:00:12:34:56", c.MAC.String())
		assert.Equal(t, "10.0.0.7", c.IP().String())
		assert.Equal(t, "tap0", c.Iface)
		assert.Equal(t, "example.org", c.Domain())
	})

	t.Run("missing hostname", func(t *testing.T) {
		f := bindingfile.Fields{
			MAC: "52:54:00:12:34:56",
			IPs: []string{"10.0.0.7"},
		}

		_, ok := f.Client("tap0")
		assert.False(t, ok)
	})

	t.Run("malformed mac", func(t *testing.T) {
		f := bindingfile.Fields{
			MAC:      "not-a-mac",
			IPs:      []string{"10.0.0.7"},
			Hostname: "vm7.example.org",
		}

		_, ok := f.Client("tap0")
		assert.False(t, ok)
	})
}
