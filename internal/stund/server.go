// Package stund implements a binary-framed UDP STUN responder: the subset
// of RFC 5389 needed to answer Binding Requests with XOR-MAPPED-ADDRESS. It
// shares no state with the signaling room engine.
package stund

import (
	"encoding/binary"
	"net"

	"github.com/pion/logging"

	"rendezvous/internal/metrics"
)

const (
	bindingRequest      uint16 = 0x0001
	bindingResponse     uint16 = 0x0101
	bindingErrorResp    uint16 = 0x0111
	xorMappedAddress    uint16 = 0x0020
	errorCodeAttribute  uint16 = 0x0009
	magicCookie         uint32 = 0x2112A442
	headerLen                  = 20
)

// Server is a stateless UDP packet classifier; it holds no allocation table
// and needs no lock, unlike the TURN responder.
type Server struct {
	conn   *net.UDPConn
	logger logging.LeveledLogger
}

// New binds a UDP socket at addr. Close the returned *net.UDPConn via Conn()
// to stop Serve.
func New(addr string, logger logging.LeveledLogger) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	logger.Infof("STUN server listening on %s", conn.LocalAddr())
	return &Server{conn: conn, logger: logger}, nil
}

// Conn exposes the underlying socket so callers can Close it to unblock Serve.
func (s *Server) Conn() *net.UDPConn { return s.conn }

// Serve reads packets until the socket is closed. It never returns an error
// for a malformed or truncated packet; those are dropped silently after a
// debug log.
func (s *Server) Serve() error {
	buf := make([]byte, 1024)
	for {
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])
		resp := s.handlePacket(packet, src)
		if resp == nil {
			continue
		}
		if _, err := s.conn.WriteToUDP(resp, src); err != nil {
			s.logger.Errorf("failed to send STUN response to %s: %v", src, err)
		}
	}
}

func (s *Server) handlePacket(packet []byte, src *net.UDPAddr) []byte {
	if len(packet) < headerLen {
		s.logger.Debugf("STUN packet from %s too short", src)
		return nil
	}

	msgType := binary.BigEndian.Uint16(packet[0:2])
	msgLen := binary.BigEndian.Uint16(packet[2:4])
	if len(packet) != headerLen+int(msgLen) {
		s.logger.Debugf("STUN packet from %s has mismatched length", src)
		return nil
	}

	switch msgType {
	case bindingRequest:
		s.logger.Debugf("STUN binding request from %s", src)
		metrics.RecordSTUNBinding()
		return buildBindingResponse(packet, src)
	default:
		s.logger.Debugf("unsupported STUN message type 0x%04x from %s", msgType, src)
		return buildErrorResponse(packet, 400, "Bad Request")
	}
}

// buildBindingResponse echoes the magic cookie and transaction id and
// attaches the requester's address XOR-encoded per RFC 5389 section 15.2.
func buildBindingResponse(request []byte, src *net.UDPAddr) []byte {
	resp := make([]byte, 0, 32)
	resp = appendUint16(resp, bindingResponse)
	resp = appendUint16(resp, 0) // length patched below
	resp = append(resp, request[4:20]...)

	port := uint16(src.Port) ^ uint16(magicCookie>>16)
	ip4 := src.IP.To4()

	resp = appendUint16(resp, xorMappedAddress)
	if ip4 == nil {
		// IPv6 is stubbed: IPv6 family, XORed port, 16 zero address bytes.
		resp = appendUint16(resp, 20)
		resp = append(resp, 0x00, 0x02) // reserved, IPv6 family
		resp = appendUint16(resp, port)
		resp = append(resp, make([]byte, 16)...)
		patchLength(resp)
		return resp
	}
	resp = appendUint16(resp, 8)
	resp = append(resp, 0x00, 0x01) // reserved, IPv4 family
	resp = appendUint16(resp, port)

	cookie := make([]byte, 4)
	binary.BigEndian.PutUint32(cookie, magicCookie)
	for i := 0; i < 4; i++ {
		resp = append(resp, ip4[i]^cookie[i])
	}

	patchLength(resp)
	return resp
}

func buildErrorResponse(request []byte, code int, reason string) []byte {
	resp := make([]byte, 0, 32+len(reason))
	resp = appendUint16(resp, bindingErrorResp)
	resp = appendUint16(resp, 0)
	resp = append(resp, request[4:20]...)

	reasonBytes := []byte(reason)
	attrLen := uint16(4 + len(reasonBytes))
	resp = appendUint16(resp, errorCodeAttribute)
	resp = appendUint16(resp, attrLen)
	resp = appendUint16(resp, 0) // reserved
	resp = append(resp, byte(code/100), byte(code%100))
	resp = append(resp, reasonBytes...)
	for len(resp)%4 != 0 {
		resp = append(resp, 0) // pad the attribute to a 4-byte boundary
	}

	patchLength(resp)
	return resp
}

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

func patchLength(resp []byte) {
	total := len(resp) - headerLen
	binary.BigEndian.PutUint16(resp[2:4], uint16(total))
}
