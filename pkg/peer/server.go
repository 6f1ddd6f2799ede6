package peer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/opencxl/cxlsock/pkg/cxlpkt"
	"github.com/opencxl/cxlsock/pkg/transport"
)

const (
	// pollInterval bounds how long a serve loop blocks on an idle
	// stream before checking for a shutdown.
	pollInterval = 50 * time.Millisecond

	// writeTimeout bounds sending one answer packet.
	writeTimeout = 5 * time.Second
)

// Server accepts transaction connections on a TCP listen address and
// serves each from the same Backing.
type Server struct {
	listenAddress string
	backing       Backing

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewServer creates a Server for a listen address, serving from the
// given Backing.
func NewServer(listenAddress string, backing Backing) *Server {
	return &Server{
		listenAddress: listenAddress,
		backing:       backing,
		stopSyn:       make(chan struct{}),
		stopAck:       make(chan struct{}),
	}
}

// Start starts this Server and might return an error and a boolean
// indicating if another Start should be tried later.
func (serv *Server) Start() (error, bool) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", serv.listenAddress)
	if err != nil {
		return err, false
	}

	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return err, true
	}

	go func(ln *net.TCPListener) {
		for {
			select {
			case <-serv.stopSyn:
				ln.Close()
				close(serv.stopAck)

				return

			default:
				ln.SetDeadline(time.Now().Add(pollInterval))
				if conn, err := ln.Accept(); err == nil {
					go serv.handleConnection(conn)
				}
			}
		}
	}(ln)

	return nil, true
}

func (serv *Server) handleConnection(conn net.Conn) {
	defer func() {
		conn.Close()

		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"peer":  serv,
				"conn":  conn,
				"error": r,
			}).Warn("Peer's connection handler failed")
		}
	}()

	log.WithFields(log.Fields{
		"peer": serv,
		"conn": conn,
	}).Debug("Peer connection was established")

	if err := serveStream(conn, serv.backing, serv.stopSyn, pollInterval); err != nil {
		log.WithFields(log.Fields{
			"peer":  serv,
			"conn":  conn,
			"error": err,
		}).Info("Peer connection was closed")
	}
}

// Close shuts this Server down.
func (serv *Server) Close() {
	close(serv.stopSyn)
	<-serv.stopAck
}

// Address returns the server's listen address.
func (serv Server) Address() string {
	return fmt.Sprintf("cxl://%s", serv.listenAddress)
}

func (serv Server) String() string {
	return serv.Address()
}

// serveStream answers requests on one stream until it fails or stop is
// closed. A nil stop channel serves until the stream fails; receiveTimeout
// follows the ReceivePacket convention, where a non-positive value blocks.
// WebSocket streams must block: their read deadlines are terminal.
func serveStream(stream transport.Stream, backing Backing, stop <-chan struct{}, receiveTimeout time.Duration) error {
	var scratch [cxlpkt.MaxPacketSize]byte

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		data, err := transport.ReceivePacket(stream, scratch[:], receiveTimeout)
		if errors.Is(err, transport.ErrNoData) {
			continue
		} else if err != nil {
			return err
		}

		pkt, err := cxlpkt.Decode(data)
		if err != nil {
			return err
		}

		answer, err := answerPacket(backing, pkt)
		if err != nil {
			return err
		}

		// One write per packet, so a WebSocket stream sends the answer
		// as one message.
		var out bytes.Buffer
		if err := answer.Marshal(&out); err != nil {
			return err
		}

		if err := stream.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
		if _, err := stream.Write(out.Bytes()); err != nil {
			return err
		}
	}
}

// answerPacket serves one decoded request against the backing and
// returns the packet answering it. Failing MMIO and config space reads
// are answered with a data-less unsupported-request completion; the
// requester substitutes the poison value.
func answerPacket(backing Backing, pkt cxlpkt.Packet) (interface {
	Marshal(io.Writer) error
}, error) {
	switch p := pkt.(type) {
	case *cxlpkt.SidebandConnectionRequestPacket:
		log.WithFields(log.Fields{
			"port": p.Port,
		}).Info("Accepting transaction connection")

		return cxlpkt.NewBaseSidebandPacket(cxlpkt.SidebandConnectionAccept), nil

	case *cxlpkt.M2SReqPacket:
		if p.Opcode != cxlpkt.MemRd {
			return nil, fmt.Errorf("unexpected M2S_REQ opcode: %v", p.Opcode)
		}

		data, err := backing.ReadLine(p.HostAddr())
		if err != nil {
			return nil, err
		}
		return cxlpkt.NewS2MDRSPacket(data[:])

	case *cxlpkt.M2SRwDPacket:
		if p.Opcode != cxlpkt.MemWr {
			return nil, fmt.Errorf("unexpected M2S_RWD opcode: %v", p.Opcode)
		}

		if err := backing.WriteLine(p.HostAddr(), p.Data); err != nil {
			return nil, err
		}
		return cxlpkt.NewS2MNDRPacket(), nil

	case *cxlpkt.IoMemReadPacket:
		size := int(p.IoHeader.Dwords()) * 4

		value, err := backing.ReadMMIO(p.MReqHeader.Addr(), size)
		if err != nil {
			log.WithFields(log.Fields{
				"addr":  fmt.Sprintf("%#x", p.MReqHeader.Addr()),
				"error": err,
			}).Warn("MMIO read failed, completing as unsupported")

			return cxlpkt.NewCplPacket(cxlpkt.CplUnsupported, p.MReqHeader.Tag), nil
		}

		if size == 8 {
			return cxlpkt.NewCplDataPacket64(value, p.MReqHeader.Tag), nil
		}
		return cxlpkt.NewCplDataPacket32(uint32(value), p.MReqHeader.Tag), nil

	case *cxlpkt.IoMemWrite32Packet:
		if err := backing.WriteMMIO(p.MReqHeader.Addr(), 4, uint64(p.Data)); err != nil {
			return cxlpkt.NewCplPacket(cxlpkt.CplUnsupported, p.MReqHeader.Tag), nil
		}
		return cxlpkt.NewCplPacket(cxlpkt.CplSuccess, p.MReqHeader.Tag), nil

	case *cxlpkt.IoMemWrite64Packet:
		if err := backing.WriteMMIO(p.MReqHeader.Addr(), 8, p.Data); err != nil {
			return cxlpkt.NewCplPacket(cxlpkt.CplUnsupported, p.MReqHeader.Tag), nil
		}
		return cxlpkt.NewCplPacket(cxlpkt.CplSuccess, p.MReqHeader.Tag), nil

	case *cxlpkt.CfgReadPacket:
		value, err := backing.ReadConfig(p.CfgReqHeader.DestID, uint16(p.CfgReqHeader.Offset()))
		if err != nil {
			log.WithFields(log.Fields{
				"bdf":    fmt.Sprintf("%#x", p.CfgReqHeader.DestID),
				"offset": fmt.Sprintf("%#x", p.CfgReqHeader.Offset()),
				"error":  err,
			}).Warn("Config read failed, completing as unsupported")

			return cxlpkt.NewCplPacket(cxlpkt.CplUnsupported, p.CfgReqHeader.Tag), nil
		}
		return cxlpkt.NewCplDataPacket32(value, p.CfgReqHeader.Tag), nil

	case *cxlpkt.CfgWritePacket:
		bdf := p.CfgReqHeader.DestID
		offset := uint16(p.CfgReqHeader.Offset())

		// A config write touches only the byte lanes its first dword
		// byte enables select; untouched lanes keep their value.
		old, err := backing.ReadConfig(bdf, offset)
		if err != nil {
			return cxlpkt.NewCplPacket(cxlpkt.CplUnsupported, p.CfgReqHeader.Tag), nil
		}

		merged := mergeByteLanes(old, p.Value, p.CfgReqHeader.FirstDwBE)
		if err := backing.WriteConfig(bdf, offset, merged); err != nil {
			return cxlpkt.NewCplPacket(cxlpkt.CplUnsupported, p.CfgReqHeader.Tag), nil
		}
		return cxlpkt.NewCplPacket(cxlpkt.CplSuccess, p.CfgReqHeader.Tag), nil

	default:
		return nil, fmt.Errorf("no answer for packet %v", pkt)
	}
}

// mergeByteLanes replaces the byte lanes of old selected by the byte
// enables with the matching lanes of val.
func mergeByteLanes(old, val uint32, byteEnables uint8) uint32 {
	var mask uint32
	for lane := 0; lane < 4; lane++ {
		if byteEnables&(1<<lane) != 0 {
			mask |= 0xFF << (8 * lane)
		}
	}

	return (old &^ mask) | (val & mask)
}
