// Package localip discovers the machine's LAN-facing address, used to
// rewrite "localhost"/"127.0.0.1" ICE server URLs in the ops config endpoint
// so phones on the same network can actually reach the STUN/TURN ports.
package localip

import "net"

// Get returns the local address used to reach the public internet, without
// sending any data — the same UDP-connect trick as the original
// implementation this was rewritten from.
func Get() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", net.InvalidAddrError("not a UDP address")
	}
	return addr.IP.String(), nil
}

// AllHosts returns the names a self-signed certificate should be valid for:
// localhost, the loopback address, and the discovered LAN address if any.
func AllHosts() []string {
	hosts := []string{"localhost", "127.0.0.1"}
	if ip, err := Get(); err == nil {
		hosts = append(hosts, ip)
	}
	return hosts
}
