package server

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	http3 "github.com/quic-go/quic-go/http3"
)

// HTTP3Server serves the daemon's handler over QUIC.
type HTTP3Server struct {
	srv  *http3.Server
	pc   net.PacketConn
	addr string
	stop func() error
}

// NewHTTP3Server prepares a server for addr. Nothing is bound until
// Start.
func NewHTTP3Server(addr string, tlsCfg *tls.Config, h http.Handler) *HTTP3Server {
	return &HTTP3Server{
		srv:  &http3.Server{Addr: addr, TLSConfig: tlsCfg, Handler: h},
		addr: addr,
	}
}

// Start binds the UDP socket and serves in the background. It returns
// the bound address, which differs from the configured one when addr
// ends in ":0".
func (s *HTTP3Server) Start() (string, error) {
	pc, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return "", fmt.Errorf("server: listen udp %s: %w", s.addr, err)
	}
	s.pc = pc
	done := make(chan struct{})
	go func() {
		_ = s.srv.Serve(pc)
		close(done)
	}()
	s.stop = func() error {
		err := pc.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
		return err
	}
	return pc.LocalAddr().String(), nil
}

// Stop closes the socket and waits briefly for the serve loop to wind
// down. Safe to call before Start.
func (s *HTTP3Server) Stop() error {
	if s.stop != nil {
		return s.stop()
	}
	return nil
}

// HTTP3Client returns a client that reaches the daemon over QUIC.
// Release it with CloseHTTP3.
func HTTP3Client(tlsCfg *tls.Config, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http3.RoundTripper{TLSClientConfig: tlsCfg},
		Timeout:   timeout,
	}
}

// CloseHTTP3 releases the client's QUIC transport.
func CloseHTTP3(c *http.Client) {
	if tr, ok := c.Transport.(*http3.RoundTripper); ok {
		_ = tr.Close()
	}
}

// LoadTLS reads the certificate pair the QUIC listener presents.
func LoadTLS(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("server: load certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{"h3"},
	}, nil
}
