package stund

import (
	"encoding/binary"
	"net"
	"testing"
)

func buildBindingRequest(txID [12]byte) []byte {
	req := make([]byte, 20)
	binary.BigEndian.PutUint16(req[0:2], bindingRequest)
	binary.BigEndian.PutUint16(req[2:4], 0)
	binary.BigEndian.PutUint32(req[4:8], magicCookie)
	copy(req[8:20], txID[:])
	return req
}

func TestBindingResponseXORRoundTrip(t *testing.T) {
	s := &Server{logger: nopLogger{}}
	src := &net.UDPAddr{IP: net.ParseIP("192.0.2.5").To4(), Port: 41234}

	var txID [12]byte
	copy(txID[:], []byte("abcdefghijkl"))
	req := buildBindingRequest(txID)

	resp := s.handlePacket(req, src)
	if len(resp) != 32 {
		t.Fatalf("expected a 32-byte response, got %d", len(resp))
	}

	msgType := binary.BigEndian.Uint16(resp[0:2])
	if msgType != bindingResponse {
		t.Fatalf("expected BINDING_RESPONSE, got 0x%04x", msgType)
	}
	if string(resp[8:20]) != string(txID[:]) {
		t.Fatalf("transaction id was not echoed")
	}

	attrType := binary.BigEndian.Uint16(resp[20:22])
	if attrType != xorMappedAddress {
		t.Fatalf("expected XOR_MAPPED_ADDRESS attribute, got 0x%04x", attrType)
	}

	xPort := binary.BigEndian.Uint16(resp[26:28])
	decodedPort := xPort ^ uint16(magicCookie>>16)
	if decodedPort != 41234 {
		t.Fatalf("decoded port = %d, want 41234", decodedPort)
	}

	cookie := make([]byte, 4)
	binary.BigEndian.PutUint32(cookie, magicCookie)
	decodedIP := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		decodedIP[i] = resp[28+i] ^ cookie[i]
	}
	if !decodedIP.Equal(net.ParseIP("192.0.2.5")) {
		t.Fatalf("decoded ip = %s, want 192.0.2.5", decodedIP)
	}
}

func TestUnsupportedMessageTypeGetsErrorResponse(t *testing.T) {
	s := &Server{logger: nopLogger{}}
	src := &net.UDPAddr{IP: net.ParseIP("192.0.2.5"), Port: 1}

	req := buildBindingRequest([12]byte{})
	binary.BigEndian.PutUint16(req[0:2], 0x0009) // some other request type

	resp := s.handlePacket(req, src)
	msgType := binary.BigEndian.Uint16(resp[0:2])
	if msgType != bindingErrorResp {
		t.Fatalf("expected BINDING_ERROR_RESPONSE, got 0x%04x", msgType)
	}
}

func TestTruncatedPacketIsDropped(t *testing.T) {
	s := &Server{logger: nopLogger{}}
	src := &net.UDPAddr{IP: net.ParseIP("192.0.2.5"), Port: 1}
	if resp := s.handlePacket([]byte{0, 1, 2}, src); resp != nil {
		t.Fatalf("expected nil for a too-short packet, got %v", resp)
	}
}

func TestLengthMismatchIsDropped(t *testing.T) {
	s := &Server{logger: nopLogger{}}
	src := &net.UDPAddr{IP: net.ParseIP("192.0.2.5"), Port: 1}
	req := buildBindingRequest([12]byte{})
	binary.BigEndian.PutUint16(req[2:4], 99) // claims a body that isn't there
	if resp := s.handlePacket(req, src); resp != nil {
		t.Fatalf("expected nil for a length-mismatched packet, got %v", resp)
	}
}

// nopLogger satisfies logging.LeveledLogger without pulling in a real sink.
type nopLogger struct{}

func (nopLogger) Trace(string)                  {}
func (nopLogger) Tracef(string, ...interface{}) {}
func (nopLogger) Debug(string)                  {}
func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Info(string)                   {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warn(string)                   {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Error(string)                  {}
func (nopLogger) Errorf(string, ...interface{}) {}
