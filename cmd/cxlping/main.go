// cxlping probes a memory device peer: it performs the sideband
// handshake, a config space read and a CXL.mem write/read round trip
// and reports the latency of each.
package main

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/opencxl/cxlsock/pkg/cxlpkt"
	"github.com/opencxl/cxlsock/pkg/remote"
	"github.com/opencxl/cxlsock/pkg/transport"
)

const probeAddr uint64 = 0x1000

func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage: %s address [rounds]\n\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  address  peer's host:port, or a ws:// respectively wss:// URL\n")
	_, _ = fmt.Fprintf(os.Stderr, "  rounds   number of probe rounds, defaults to 3\n")

	os.Exit(1)
}

// dial opens a Port against a TCP address or a WebSocket URL.
func dial(address string) (*remote.Port, error) {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		conn, err := transport.DialWebSocket(address, transport.DefaultTimeout)
		if err != nil {
			return nil, err
		}
		return remote.NewPort(conn), nil
	}

	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	tcpPort, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}

	conn, err := transport.Dial(host, tcpPort, transport.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	return remote.NewPort(conn), nil
}

func probe(port *remote.Port, round int) error {
	start := time.Now()
	if _, err := port.ConfigRead(0, 0x00, 4, true); err != nil {
		return fmt.Errorf("config read failed: %v", err)
	}
	cfgLatency := time.Since(start)

	line := make([]byte, cxlpkt.MemAccessUnit)
	copy(line, fmt.Sprintf("cxlping round %d", round))

	start = time.Now()
	if err := port.MemWrite(probeAddr, line); err != nil {
		return fmt.Errorf("memory write failed: %v", err)
	}
	data, err := port.MemRead(probeAddr)
	if err != nil {
		return fmt.Errorf("memory read failed: %v", err)
	}
	memLatency := time.Since(start)

	if !bytes.Equal(data[:], line) {
		return fmt.Errorf("read back %x instead of %x", data, line)
	}

	log.WithFields(log.Fields{
		"round":  round,
		"config": cfgLatency,
		"memory": memLatency,
	}).Info("Probe round succeeded")

	return nil
}

func main() {
	if len(os.Args) < 2 || len(os.Args) > 3 {
		printUsage()
	}

	rounds := 3
	if len(os.Args) == 3 {
		var err error
		if rounds, err = strconv.Atoi(os.Args[2]); err != nil || rounds < 1 {
			printUsage()
		}
	}

	port, err := dial(os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("Dialing errored")
	}
	defer port.Close()

	start := time.Now()
	if err := port.Connect(0); err != nil {
		log.WithError(err).Fatal("Sideband handshake errored")
	}
	log.WithField("latency", time.Since(start)).Info("Peer accepted the connection")

	for round := 1; round <= rounds; round++ {
		if err := probe(port, round); err != nil {
			log.WithFields(log.Fields{
				"round": round,
				"error": err,
			}).Fatal("Probe round failed")
		}
	}
}
