// Package turnd implements the narrow TURN subset the rendezvous service's
// own clients exercise: ALLOCATE and SEND_INDICATION parsing. It does not
// relay media; see Server.handleSendIndication.
package turnd

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"rendezvous/internal/metrics"
)

const (
	allocateRequest    uint16 = 0x0003
	allocateResponse   uint16 = 0x0103
	allocateErrorResp  uint16 = 0x0113
	sendIndication     uint16 = 0x0016
	dataIndication     uint16 = 0x0117

	xorRelayedAddress uint16 = 0x0016
	lifetimeAttr      uint16 = 0x000d
	xorPeerAddress    uint16 = 0x0012
	dataAttr          uint16 = 0x0013
	errorCodeAttr     uint16 = 0x0009

	magicCookie uint32 = 0x2112A442
	headerLen          = 20

	firstRelayPort = 49152
	lastRelayPort  = 65535
	allocationTTL  = 600 * time.Second
)

// Allocation is one TURN relay reservation.
type Allocation struct {
	ID          string
	ClientAddr  *net.UDPAddr
	RelayedAddr *net.UDPAddr
	ExpiresAt   time.Time
}

// Server tracks the allocation table and the monotonic relay-port cursor.
// One coarse mutex guards both; allocation volume is low enough that finer
// locking buys nothing.
type Server struct {
	conn   *net.UDPConn
	logger logging.LeveledLogger

	mu             sync.Mutex
	allocations    map[string]*Allocation
	byRelayPort    map[int]string // relay port -> allocation id
	nextRelayPort  int
}

// New binds a UDP socket at addr.
func New(addr string, logger logging.LeveledLogger) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	logger.Infof("TURN server listening on %s", conn.LocalAddr())
	return &Server{
		conn:          conn,
		logger:        logger,
		allocations:   make(map[string]*Allocation),
		byRelayPort:   make(map[int]string),
		nextRelayPort: firstRelayPort,
	}, nil
}

// Conn exposes the underlying socket so callers can Close it to unblock Serve.
func (s *Server) Conn() *net.UDPConn { return s.conn }

// Serve reads packets until the socket is closed.
func (s *Server) Serve() error {
	buf := make([]byte, 2048)
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
			s.logger.Errorf("failed to send TURN response to %s: %v", src, err)
		}
	}
}

func (s *Server) handlePacket(packet []byte, src *net.UDPAddr) []byte {
	if len(packet) < headerLen {
		s.logger.Debugf("TURN packet from %s too short", src)
		return nil
	}

	msgType := binary.BigEndian.Uint16(packet[0:2])
	msgLen := binary.BigEndian.Uint16(packet[2:4])
	if len(packet) != headerLen+int(msgLen) {
		s.logger.Debugf("TURN packet from %s has mismatched length", src)
		return nil
	}

	switch msgType {
	case allocateRequest:
		s.logger.Debugf("TURN allocate request from %s", src)
		return s.createAllocateResponse(packet, src)
	case sendIndication:
		s.logger.Debugf("TURN send indication from %s", src)
		s.handleSendIndication(packet, src)
		return nil
	default:
		s.logger.Debugf("unsupported TURN message type 0x%04x from %s", msgType, src)
		return buildErrorResponse(packet, 400, "Bad Request")
	}
}

func (s *Server) createAllocateResponse(request []byte, clientAddr *net.UDPAddr) []byte {
	allocationID := uuid.NewString()

	s.mu.Lock()
	relayPort := s.nextRelayPortLocked()
	relayedAddr := &net.UDPAddr{IP: clientAddr.IP, Port: relayPort}
	s.allocations[allocationID] = &Allocation{
		ID:          allocationID,
		ClientAddr:  clientAddr,
		RelayedAddr: relayedAddr,
		ExpiresAt:   time.Now().Add(allocationTTL),
	}
	s.byRelayPort[relayPort] = allocationID
	s.mu.Unlock()

	s.logger.Infof("created TURN allocation %s for %s -> %s", allocationID, clientAddr, relayedAddr)
	metrics.RecordTURNAllocation()

	resp := make([]byte, 0, 40)
	resp = appendUint16(resp, allocateResponse)
	resp = appendUint16(resp, 0)
	resp = append(resp, request[4:20]...)

	resp = appendUint16(resp, xorRelayedAddress)
	resp = appendUint16(resp, 8)
	resp = append(resp, 0x00, 0x01)

	port := uint16(relayedAddr.Port) ^ uint16(magicCookie>>16)
	resp = appendUint16(resp, port)

	cookie := make([]byte, 4)
	binary.BigEndian.PutUint32(cookie, magicCookie)
	ip4 := relayedAddr.IP.To4()
	for i := 0; i < 4; i++ {
		b := byte(0)
		if ip4 != nil {
			b = ip4[i]
		}
		resp = append(resp, b^cookie[i])
	}

	resp = appendUint16(resp, lifetimeAttr)
	resp = appendUint16(resp, 4)
	resp = binary.BigEndian.AppendUint32(resp, uint32(allocationTTL.Seconds()))

	patchLength(resp)
	return resp
}

// handleSendIndication parses XOR-PEER-ADDRESS and DATA but does not forward
// the payload: no peer-facing relay socket is opened in this deployment.
func (s *Server) handleSendIndication(packet []byte, src *net.UDPAddr) {
	var peerAddr *net.UDPAddr
	var data []byte

	pos := headerLen
	for pos+4 <= len(packet) {
		attrType := binary.BigEndian.Uint16(packet[pos : pos+2])
		attrLen := int(binary.BigEndian.Uint16(packet[pos+2 : pos+4]))
		pos += 4
		if pos+attrLen > len(packet) {
			break
		}

		switch attrType {
		case xorPeerAddress:
			if attrLen >= 8 {
				port := binary.BigEndian.Uint16(packet[pos+2:pos+4]) ^ uint16(magicCookie>>16)
				cookie := make([]byte, 4)
				binary.BigEndian.PutUint32(cookie, magicCookie)
				ip := make(net.IP, 4)
				for i := 0; i < 4; i++ {
					ip[i] = packet[pos+4+i] ^ cookie[i]
				}
				peerAddr = &net.UDPAddr{IP: ip, Port: int(port)}
			}
		case dataAttr:
			data = packet[pos : pos+attrLen]
		}

		pos += (attrLen + 3) &^ 3 // round up to 4-byte boundary
	}

	if peerAddr != nil && data != nil {
		s.logger.Infof("TURN relay: %s -> %s (%d bytes, not forwarded)", src, peerAddr, len(data))
	}
}

func buildErrorResponse(request []byte, code int, reason string) []byte {
	reasonBytes := []byte(reason)
	resp := make([]byte, 0, 28+len(reasonBytes))
	resp = appendUint16(resp, allocateErrorResp)
	resp = appendUint16(resp, 0)
	resp = append(resp, request[4:20]...)

	attrLen := uint16(4 + len(reasonBytes))
	resp = appendUint16(resp, errorCodeAttr)
	resp = appendUint16(resp, attrLen)
	resp = appendUint16(resp, 0)
	resp = append(resp, byte(code/100), byte(code%100))
	resp = append(resp, reasonBytes...)
	for len(resp)%4 != 0 {
		resp = append(resp, 0) // pad the attribute to a 4-byte boundary
	}

	patchLength(resp)
	return resp
}

// nextRelayPortLocked advances the cursor, wrapping at the end of the
// dynamic port range. Caller must hold s.mu.
func (s *Server) nextRelayPortLocked() int {
	port := s.nextRelayPort
	s.nextRelayPort++
	if s.nextRelayPort > lastRelayPort {
		s.nextRelayPort = firstRelayPort
	}
	return port
}

// SweepExpired removes allocations past their lifetime. Intended to be
// called periodically from a ticker owned by the caller.
func (s *Server) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, alloc := range s.allocations {
		if now.After(alloc.ExpiresAt) {
			delete(s.allocations, id)
			delete(s.byRelayPort, alloc.RelayedAddr.Port)
			removed++
		}
	}
	return removed
}

// AllocationCount reports the number of live allocations.
func (s *Server) AllocationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.allocations)
}

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

func patchLength(resp []byte) {
	total := len(resp) - headerLen
	binary.BigEndian.PutUint16(resp[2:4], uint16(total))
}
