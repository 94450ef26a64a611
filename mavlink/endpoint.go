// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package mavlink

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bluenviron/gomavlib/v3"
)

const defaultBaudRate = 57600

// parseEndpoint turns a connection string into a gomavlib endpoint.
//
// Supported forms:
//
//	udp://host:port     dial out to a UDP peer
//	udp://:port         listen for UDP traffic (SITL default)
//	udpin://:port       listen for UDP traffic
//	udpout://host:port  dial out to a UDP peer
//	tcp://host:port     dial out over TCP
//	tcpin://:port       listen for TCP connections
//	serial:///dev/ttyUSB0:57600  serial device with baud rate
func parseEndpoint(conn string) (gomavlib.EndpointConf, error) {
	scheme, rest, ok := strings.Cut(conn, "://")
	if !ok {
		return nil, fmt.Errorf("connection string %q missing scheme", conn)
	}

	switch scheme {
	case "udp":
		if strings.HasPrefix(rest, ":") {
			return gomavlib.EndpointUDPServer{Address: rest}, nil
		}
		return gomavlib.EndpointUDPClient{Address: rest}, nil
	case "udpin":
		return gomavlib.EndpointUDPServer{Address: rest}, nil
	case "udpout":
		return gomavlib.EndpointUDPClient{Address: rest}, nil
	case "tcp", "tcpout":
		return gomavlib.EndpointTCPClient{Address: rest}, nil
	case "tcpin":
		return gomavlib.EndpointTCPServer{Address: rest}, nil
	case "serial":
		device := rest
		baud := defaultBaudRate
		if idx := strings.LastIndex(rest, ":"); idx > 0 {
			parsed, err := strconv.Atoi(rest[idx+1:])
			if err != nil {
				return nil, fmt.Errorf("connection string %q has invalid baud rate: %w", conn, err)
			}
			device, baud = rest[:idx], parsed
		}
		return gomavlib.EndpointSerial{Device: device, Baud: baud}, nil
	default:
		return nil, fmt.Errorf("connection string %q has unsupported scheme %q", conn, scheme)
	}
}
