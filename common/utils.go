package common

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Validate endpoint (IP:port or DomainName:port)
func IsValidEndpoint(endpoint string) bool {
	_, err := ParseNodeAddress(endpoint)
	return err == nil
}

// ParseNodeAddress splits "host:port" into a NodeAddress
func ParseNodeAddress(endpoint string) (NodeAddress, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return NodeAddress{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return NodeAddress{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return NodeAddress{Address: host, Port: uint16(port)}, nil
}

// ParseRemotePath parses "host:port:path", the remote file syntax of the copy tool.
// ok is false when s does not name a remote file.
func ParseRemotePath(s string) (endpoint string, path string, ok bool) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	if _, err := strconv.ParseUint(parts[1], 10, 16); err != nil {
		return "", "", false
	}
	return net.JoinHostPort(parts[0], parts[1]), parts[2], true
}

// NormalizeEndpoint appends the default namenode port when endpoint has none
func NormalizeEndpoint(endpoint string) string {
	if _, _, err := net.SplitHostPort(endpoint); err == nil {
		return endpoint
	}
	return net.JoinHostPort(endpoint, strconv.Itoa(DEFAULT_NAMENODE_PORT))
}
