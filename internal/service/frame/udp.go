package frame

import (
	"bytes"
	"context"
	"fmt"
	"net"

	"detectstream/internal/logger"
)

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

// UDPReceiver listens for UDP packets from cameras, reconstructs JPEG frames
// and stores complete frames.
type UDPReceiver struct {
	conn          *net.UDPConn
	cameraNames   map[string]string
	store         *Store
	logger        *logger.Logger
	cameraBuffers map[string]*bytes.Buffer // only touched by the read loop
}

// ListenUDP binds the camera port. Port 0 picks a free port.
func ListenUDP(port int, cameraNames map[string]string, store *Store, logger *logger.Logger) (*UDPReceiver, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP port %d: %w", port, err)
	}

	return &UDPReceiver{
		conn:          conn,
		cameraNames:   cameraNames,
		store:         store,
		logger:        logger,
		cameraBuffers: make(map[string]*bytes.Buffer),
	}, nil
}

// Addr returns the bound address.
func (r *UDPReceiver) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Close releases the socket of a receiver that never ran.
func (r *UDPReceiver) Close() error {
	return r.conn.Close()
}

// Run reads packets until ctx is cancelled.
func (r *UDPReceiver) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	r.logger.Info("UDP camera receiver started on %s", r.conn.LocalAddr())
	buffer := make([]byte, 2048)

	for {
		n, remoteAddr, err := r.conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Info("UDP camera receiver stopped")
				return
			}
			r.logger.Error("Error reading UDP packet: %v", err)
			continue
		}
		r.handlePacket(remoteAddr.IP.String(), buffer[:n])
	}
}

// cameraName resolves the sender IP to a configured camera name.
func (r *UDPReceiver) cameraName(ip string) string {
	if name, ok := r.cameraNames[ip]; ok {
		return name
	}
	return "unknown_" + ip
}

func (r *UDPReceiver) handlePacket(ip string, data []byte) {
	camera := r.cameraName(ip)

	imgBuffer, ok := r.cameraBuffers[camera]
	if !ok {
		imgBuffer = new(bytes.Buffer)
		r.cameraBuffers[camera] = imgBuffer
	}

	if bytes.HasPrefix(data, jpegHeader) {
		imgBuffer.Reset()
	}
	imgBuffer.Write(data)

	if bytes.HasSuffix(data, jpegFooter) {
		r.store.Put(camera, imgBuffer.Bytes())
		imgBuffer.Reset()
	}
}
