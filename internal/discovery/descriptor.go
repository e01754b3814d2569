// Package discovery answers LAN probes so a mobile client can find the
// desktop's pairing endpoint without typing an address.
//
// The protocol is one UDP datagram each way: the client sends the exact
// string ProbeMessage, the desktop replies with a JSON Descriptor.
package discovery

import "runtime"

// ProbeMessage is the only datagram the responder answers.
const ProbeMessage = "WAGOO_DISCOVERY_REQUEST"

// Descriptor describes where and how to reach the pairing server.
type Descriptor struct {
	Service   string `json:"service"`
	IP        string `json:"ip"`
	WSPort    int    `json:"wsPort"`
	Hostname  string `json:"hostname"`
	Version   string `json:"version"`
	Platform  string `json:"platform"`
	Timestamp int64  `json:"timestamp"`
}

// platformTag maps GOOS onto the platform names mobile clients expect.
func platformTag(goos string) string {
	if goos == "windows" {
		return "win32"
	}
	return goos
}

// Platform is the tag reported for this build.
func Platform() string { return platformTag(runtime.GOOS) }
