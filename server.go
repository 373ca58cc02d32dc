// Package xcpudp implements the XCP on UDP transport layer.
//
// A Server receives command datagrams, performs the CONNECT handshake with a
// single client and forwards commands to an Interpreter. Measurement data
// (DTOs) is produced concurrently through Reserve/Commit, packed into
// datagrams by a transmit queue and sent to the connected client.
package xcpudp

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidInterpreter is returned when no command interpreter is provided.
	ErrInvalidInterpreter = errors.New("xcpudp: invalid interpreter")
	// ErrInvalidConn is returned when no socket is provided.
	ErrInvalidConn = errors.New("xcpudp: invalid packet conn")
	// ErrEmptyResponse is returned by SendResponse for an empty packet.
	ErrEmptyResponse = errors.New("xcpudp: empty response packet")
)

// Server is the XCP on UDP transport of one XCP server instance.
//
// The server is either disconnected or connected to exactly one client. The
// transmit queue only exists while a client is connected; it is reset on
// every successful CONNECT so nothing from an earlier session is sent.
type Server struct {
	conn    PacketConn
	interp  Interpreter
	logger  Logger
	metrics *Metrics
	opts    options

	// mu serialises the transmit queue and the command response path.
	mu             sync.Mutex
	lastCmdCounter uint16
	crm            []byte

	tx     Transmitter
	client atomic.Pointer[net.UDPAddr]

	// receive buffer, only used by the receiving goroutine
	rx []byte
}

// NewServer creates a server on an already opened socket.
func NewServer(conn PacketConn, interp Interpreter, opt ...Option) (*Server, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	if err := checkOptions(&opts); err != nil {
		return nil, err
	}
	return newServerWithOptions(conn, interp, opts)
}

// Listen opens a UDP socket on address and creates a server on it.
func Listen(ctx context.Context, address string, interp Interpreter, opt ...Option) (*Server, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	if err := checkOptions(&opts); err != nil {
		return nil, err
	}
	if interp == nil {
		return nil, ErrInvalidInterpreter
	}

	conn, err := ListenUDP(ctx, address, opts.receiveTimeout, opts.sendBufferSize)
	if err != nil {
		return nil, err
	}
	s, err := newServerWithOptions(conn, interp, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func newServerWithOptions(conn PacketConn, interp Interpreter, opts options) (*Server, error) {
	if conn == nil {
		return nil, ErrInvalidConn
	}
	if interp == nil {
		return nil, ErrInvalidInterpreter
	}

	s := &Server{
		conn:    conn,
		interp:  interp,
		logger:  opts.logger,
		metrics: opts.metrics,
		opts:    opts,
		crm:     make([]byte, HeaderSize+opts.maxCTO),
		rx:      make([]byte, opts.mtu),
	}
	s.tx = newTransmitter(&s.opts, &s.mu, s.sendDTO)
	return s, nil
}

// Connected reports whether a client is connected.
func (s *Server) Connected() bool {
	return s.client.Load() != nil
}

// ClientAddr returns the address of the connected client, or nil.
func (s *Server) ClientAddr() *net.UDPAddr {
	return s.client.Load()
}

// LocalAddr returns the address the server socket is bound to.
func (s *Server) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Reserve claims space for a DTO with size payload bytes. It never blocks on
// I/O. ErrQueueFull and ErrNotConnected mean the sample has to be dropped.
// The returned reservation must be committed exactly once.
func (s *Server) Reserve(size int) (*Reservation, error) {
	return s.tx.Reserve(size)
}

// Commit marks the payload of r as written.
func (s *Server) Commit(r *Reservation) error {
	return s.tx.Commit(r)
}

// Write queues payload as one DTO message.
func (s *Server) Write(payload []byte) error {
	r, err := s.tx.Reserve(len(payload))
	if err != nil {
		return err
	}
	copy(r.Data, payload)
	return s.tx.Commit(r)
}

// Flush seals the partially filled datagram and sends all committed data.
// Call it at the end of a measurement cycle.
func (s *Server) Flush() error {
	return s.tx.Flush()
}

// HandleTransmitQueue sends all completed and fully committed datagrams.
func (s *Server) HandleTransmitQueue() error {
	return s.tx.HandleTransmitQueue()
}

// SendResponse sends packet as a single command response message to the
// connected client. The counter of the message continues from the counter of
// the last received command.
func (s *Server) SendResponse(packet []byte) error {
	if len(packet) == 0 {
		return ErrEmptyResponse
	}
	if len(packet) > s.opts.maxCTO {
		return ErrMessageTooLarge
	}
	client := s.client.Load()
	if client == nil {
		return ErrNotConnected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastCmdCounter++
	PutHeader(s.crm, s.opts.layout, Header{Counter: s.lastCmdCounter, Length: uint16(len(packet))})
	n := copy(s.crm[HeaderSize:], packet)
	return s.sendDatagram(s.crm[:HeaderSize+n], client)
}

func (s *Server) sendDTO(datagram []byte) error {
	client := s.client.Load()
	if client == nil {
		return ErrNotConnected
	}
	return s.sendDatagram(datagram, client)
}

func (s *Server) sendDatagram(datagram []byte, addr *net.UDPAddr) error {
	if err := s.conn.SendTo(datagram, addr); err != nil {
		s.metrics.sendFailed()
		return err
	}
	s.metrics.datagramSent(len(datagram))
	return nil
}

// HandleCommands performs one receive step: it waits up to the receive
// timeout for a datagram and processes it. Only socket failures are returned;
// the absence of data and invalid datagrams are not errors.
func (s *Server) HandleCommands(ctx context.Context) error {
	n, src, err := s.conn.Receive(s.rx)
	if err != nil {
		if IsTemporary(err) {
			return nil
		}
		return err
	}
	if n == 0 {
		s.logger.Debug("ignored empty datagram", "addr", src)
		s.metrics.datagramIgnored(ignoredEmpty)
		return nil
	}

	s.handleDatagram(ctx, s.rx[:n], src)
	return nil
}

func (s *Server) handleDatagram(ctx context.Context, datagram []byte, src *net.UDPAddr) {
	client := s.client.Load()
	if client == nil {
		s.handleConnect(ctx, datagram, src)
		return
	}

	if !s.opts.anySender && !sameAddr(client, src) {
		s.logger.Debug("ignored datagram from foreign sender", "addr", src, "client", client)
		s.metrics.datagramIgnored(ignoredSender)
		return
	}

	for len(datagram) > 0 {
		h, payload, rest, err := DecodeMessage(datagram, s.opts.layout)
		switch {
		case errors.Is(err, ErrShortHeader):
			// Forwarded unparsed, command validation is up to the interpreter.
			payload, rest = datagram, nil
		case err != nil:
			s.setLastCmdCounter(h.Counter)
			rest = nil
		default:
			s.setLastCmdCounter(h.Counter)
		}

		s.metrics.commandReceived()
		if !s.interp.HandleCommand(ctx, payload, s) {
			s.Disconnect()
			return
		}
		datagram = rest
	}
}

// handleConnect processes a datagram received while disconnected. Only a
// single well formed CONNECT command is accepted.
func (s *Server) handleConnect(ctx context.Context, datagram []byte, src *net.UDPAddr) {
	h, payload, rest, err := DecodeMessage(datagram, s.opts.layout)
	if err != nil || len(rest) != 0 || !IsConnect(payload) {
		s.logger.Debug("ignored: no valid CONNECT command", "addr", src, "size", len(datagram))
		s.metrics.datagramIgnored(ignoredHandshake)
		return
	}
	s.setLastCmdCounter(h.Counter)

	// The client address must be known before the interpreter answers.
	s.client.Store(src)
	s.metrics.commandReceived()
	if !s.interp.HandleCommand(ctx, payload, s) {
		s.client.Store(nil)
		s.logger.Info("connect rejected", "addr", src)
		return
	}

	s.tx.Reset()
	s.metrics.clientConnected()
	s.logger.Info("client connected", "addr", src, "server_addr", s.conn.LocalAddr(),
		"mode", s.opts.mode, "mtu", s.opts.mtu)
}

func (s *Server) setLastCmdCounter(ctr uint16) {
	s.mu.Lock()
	s.lastCmdCounter = ctr
	s.mu.Unlock()
}

// Disconnect forgets the client and tears down the transmit queue. Data not
// sent yet is discarded.
func (s *Server) Disconnect() {
	client := s.client.Swap(nil)
	if client == nil {
		return
	}
	s.tx.Close()
	s.metrics.clientDisconnected()
	s.logger.Info("client disconnected", "addr", client)
}

// Run starts the receive and transmit loops and blocks until ctx is canceled
// or a socket fails. The client is disconnected when Run returns; the socket
// stays open until Close.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("xcp server started", "addr", s.conn.LocalAddr())
	s.logger.Debug("xcp server options", "mode", s.opts.mode,
		"queue_depth", s.opts.queueDepth,
		"mtu", s.opts.mtu,
		"layout", s.opts.layout,
		"receive_timeout", s.opts.receiveTimeout,
		"flush_interval", s.opts.flushInterval)

	if d, ok := s.conn.(deadlineConn); ok && s.opts.receiveTimeout < 0 {
		// clear an interrupt left by a previous Run
		_ = d.SetReadDeadline(time.Time{})
	}

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.receiveLoop(child)
	})

	group.Go(func() error {
		return s.transmitLoop(child)
	})

	if d, ok := s.conn.(deadlineConn); ok && s.opts.receiveTimeout < 0 {
		group.Go(func() error {
			<-child.Done()
			_ = d.SetReadDeadline(time.Now())
			return nil
		})
	}

	err := group.Wait()
	s.Disconnect()

	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("xcp server stopped with error", "addr", s.conn.LocalAddr(), "error", err)
	} else {
		s.logger.Info("xcp server stopped", "addr", s.conn.LocalAddr())
	}
	return err
}

// Close closes the socket.
func (s *Server) Close() error {
	s.Disconnect()
	return s.conn.Close()
}

func (s *Server) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.HandleCommands(ctx); err != nil {
				return err
			}
		}
	}
}

// transmitLoop drains the queue whenever a datagram is completed and flushes
// partially filled datagrams periodically.
func (s *Server) transmitLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.flushInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			if err := s.tx.Flush(); err != nil && !errors.Is(err, ErrNotConnected) {
				s.logger.Debug("final flush failed", "error", err)
			}
			return ctx.Err()
		case <-s.tx.Notify():
			err = s.tx.HandleTransmitQueue()
		case <-ticker.C:
			err = s.tx.Flush()
		}

		if err == nil || errors.Is(err, ErrNotConnected) {
			continue
		}
		if IsTemporary(err) {
			s.logger.Debug("transient send error", "error", err)
			continue
		}
		s.logger.Error("send failed", "client", s.client.Load(), "error", err)
		return err
	}
}

// deadlineConn is implemented by sockets whose blocking receive can be
// interrupted.
type deadlineConn interface {
	SetReadDeadline(t time.Time) error
}

func sameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
