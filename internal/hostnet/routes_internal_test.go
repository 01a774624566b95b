package hostnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRouteOutput_empty(t *testing.T) {
	subnet := parseRouteOutput("")

	assert.False(t, subnet.Prefix.IsValid())
	assert.False(t, subnet.Gateway.IsValid())
	assert.Empty(t, subnet.Device)
}

func TestParseRouteOutput_s1(t *testing.T) {
	const output = "default via 10.0.0.1 dev br0 \n10.0.0.0/24 dev br0 proto kernel scope link src 10.0.0.1 \n"

	subnet := parseRouteOutput(output)

	assert.Equal(t, "10.0.0.0/24", subnet.Prefix.String())
	assert.Equal(t, "10.0.0.1", subnet.Gateway.String())
	assert.Equal(t, "br0", subnet.Device)
	assert.Equal(t, "255.255.255.0", subnet.Netmask().String())
	assert.Equal(t, "10.0.0.255", subnet.Broadcast().String())
}

func TestParseRouteOutput_leastSpecific(t *testing.T) {
	const output = "default via 10.0.0.1 dev br0\n" +
		"10.0.0.0/24 dev br0\n" +
		"10.0.0.0/16 dev br0\n" +
		"192.168.1.0/24 dev eth1\n"

	subnet := parseRouteOutput(output)

	assert.Equal(t, "10.0.0.0/16", subnet.Prefix.String())
	assert.Equal(t, "br0", subnet.Device)
}
