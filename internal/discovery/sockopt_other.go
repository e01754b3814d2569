//go:build !unix

package discovery

import "net"

func probeListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
