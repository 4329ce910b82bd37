// Package fakedevice is a loopback ADC instrument for tests and local
// development. It speaks the command set on a TCP listener and streams
// synthetic frames between ADC_ON and ADC_OFF.
package fakedevice

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"adc-service/internal/codec"
)

// Info is the identity block returned by GET_INFO
type Info struct {
	Model      string
	Serial     uint32
	Firmware   [3]uint8
	Channels   uint8
	SampleRate uint32
	HWRev      uint16
	Status     uint16
}

// LAN is the network block returned by GET_LAN
type LAN struct {
	IP      [4]byte
	Netmask [4]byte
	Gateway [4]byte
	Port    uint16
	DHCP    bool
}

// Options shape the simulated instrument
type Options struct {
	Info          Info
	LAN           LAN
	StartSequence uint32
	// FrameInterval paces the stream; zero means 1ms.
	FrameInterval time.Duration
	// GapAfter skips one sequence number after that many frames.
	GapAfter int
	// StreamLimit stops streaming after that many frames.
	StreamLimit int
	// IgnoreStop never acknowledges ADC_OFF.
	IgnoreStop bool
	// Acks replaces the acknowledgement of a command byte.
	Acks map[byte][]byte
}

// DefaultInfo describes a 4-channel instrument
func DefaultInfo() Info {
	return Info{Model: "ADC-8000", Serial: 12345, Firmware: [3]uint8{2, 1, 7}, Channels: 4, SampleRate: 51200, HWRev: 3, Status: 1}
}

// DefaultLAN is the factory network block
func DefaultLAN() LAN {
	return LAN{
		IP:      [4]byte{192, 168, 1, 50},
		Netmask: [4]byte{255, 255, 255, 0},
		Gateway: [4]byte{192, 168, 1, 1},
		Port:    5025,
	}
}

// Server is a running fake instrument
type Server struct {
	ln   net.Listener
	opts Options

	mu       sync.Mutex
	lan      LAN
	channels uint8
	iepe     uint8
	commands []byte
	reboots  int

	wg     sync.WaitGroup
	closed chan struct{}
	conns  map[net.Conn]struct{}
}

// Start listens on 127.0.0.1 with an ephemeral port
func Start(opts Options) (*Server, error) {
	if opts.Info.Model == "" {
		opts.Info = DefaultInfo()
	}
	if opts.LAN == (LAN{}) {
		opts.LAN = DefaultLAN()
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = time.Millisecond
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:       ln,
		opts:     opts,
		lan:      opts.LAN,
		channels: opts.Info.Channels,
		closed:   make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

// Host returns the listen address host
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.ln.Addr().String())
	return host
}

// Port returns the listen port
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.ln.Addr().String())
	p, _ := strconv.Atoi(port)
	return p
}

// Close stops the listener and drops every connection
func (s *Server) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
	}
	close(s.closed)
	err := s.ln.Close()

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Commands returns the command bytes received so far, in order
func (s *Server) Commands() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.commands...)
}

// CommandCount returns how often cmd was received
func (s *Server) CommandCount(cmd byte) int {
	n := 0
	for _, c := range s.Commands() {
		if c == cmd {
			n++
		}
	}
	return n
}

// LAN returns the current network block
func (s *Server) LAN() LAN {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lan
}

// Mode returns the channel count and IEPE flags last set
func (s *Server) Mode() (channels, iepe uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels, s.iepe
}

// Reboots returns how many REBOOT commands were acknowledged
func (s *Server) Reboots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reboots
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(conn)
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) ack(cmd byte) []byte {
	if b, ok := s.opts.Acks[cmd]; ok {
		return b
	}
	return []byte{0x55, 0xAA, cmd, 0x00}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()

	var wmu sync.Mutex
	write := func(b []byte) error {
		wmu.Lock()
		defer wmu.Unlock()
		_, err := conn.Write(b)
		return err
	}

	var st *streamer
	defer func() {
		if st != nil {
			st.halt()
		}
	}()

	hdr := make([]byte, 4)
	for {
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return
		}
		if hdr[0] != 0xAA || hdr[1] != 0x55 {
			continue
		}
		cmd := hdr[2]
		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		s.mu.Unlock()

		var err error
		switch cmd {
		case 0x01:
			err = write(s.infoBytes())
		case 0x02:
			err = write(s.lanBytes())
		case 0x03:
			params := make([]byte, 15)
			if _, err = io.ReadFull(conn, params); err == nil {
				s.setLAN(params)
				err = write(s.ack(cmd))
			}
		case 0x04:
			params := make([]byte, 2)
			if _, err = io.ReadFull(conn, params); err == nil {
				s.mu.Lock()
				s.channels, s.iepe = params[0], params[1]
				s.mu.Unlock()
				err = write(s.ack(cmd))
			}
		case 0x05:
			if err = write(s.ack(cmd)); err == nil && st == nil {
				st = s.stream(write)
			}
		case 0x06:
			if st != nil {
				st.halt()
				st = nil
			}
			if !s.opts.IgnoreStop {
				err = write(s.ack(cmd))
			}
		case 0x07:
			s.mu.Lock()
			s.reboots++
			s.mu.Unlock()
			write(s.ack(cmd))
			return
		}
		if err != nil {
			return
		}
	}
}

type streamer struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (st *streamer) halt() {
	st.once.Do(func() { close(st.stop) })
	<-st.done
}

func (s *Server) stream(write func([]byte) error) *streamer {
	st := &streamer{stop: make(chan struct{}), done: make(chan struct{})}
	s.mu.Lock()
	channels := int(s.channels)
	s.mu.Unlock()
	if !codec.ChannelsFit(channels) {
		channels = 1
	}

	go func() {
		defer close(st.done)
		ticker := time.NewTicker(s.opts.FrameInterval)
		defer ticker.Stop()

		seq := s.opts.StartSequence
		start := time.Now()
		for n := 0; s.opts.StreamLimit == 0 || n < s.opts.StreamLimit; n++ {
			if s.opts.GapAfter > 0 && n == s.opts.GapAfter {
				seq++
			}
			frame, err := codec.EncodeStreamFrame(codec.StreamHeader{
				Marker:    codec.DefaultStreamMarker,
				Mode:      int8(channels),
				Timestamp: uint32(time.Since(start).Milliseconds()),
				Sequence:  seq,
			}, Payload(channels, seq))
			if err != nil {
				return
			}
			if err := write(frame); err != nil {
				return
			}
			seq++

			select {
			case <-st.stop:
				return
			case <-s.closed:
				return
			case <-ticker.C:
			}
		}
		select {
		case <-st.stop:
		case <-s.closed:
		}
	}()
	return st
}

// Payload builds a frame payload where channel c carries the constant
// count ±(c+1)<<16, the sign alternating per row.
func Payload(channels int, seq uint32) []byte {
	payload := make([]byte, codec.StreamPayloadSize)
	rows := codec.SamplesPerFrame / channels
	for r := 0; r < rows; r++ {
		for c := 0; c < channels; c++ {
			v := int32(c+1) << 16
			if (r+int(seq))%2 == 1 {
				v = -v
			}
			off := (r*channels + c) * codec.SampleWidth
			payload[off] = byte(v)
			payload[off+1] = byte(v >> 8)
			payload[off+2] = byte(v >> 16)
		}
	}
	return payload
}

func (s *Server) infoBytes() []byte {
	info := s.opts.Info
	b := make([]byte, 32)
	copy(b[0:16], info.Model)
	binary.LittleEndian.PutUint32(b[16:20], info.Serial)
	copy(b[20:23], info.Firmware[:])
	b[23] = info.Channels
	binary.LittleEndian.PutUint32(b[24:28], info.SampleRate)
	binary.LittleEndian.PutUint16(b[28:30], info.HWRev)
	binary.LittleEndian.PutUint16(b[30:32], info.Status)
	return b
}

func (s *Server) lanBytes() []byte {
	s.mu.Lock()
	lan := s.lan
	s.mu.Unlock()

	b := make([]byte, 0, 15)
	b = append(b, lan.IP[:]...)
	b = append(b, lan.Netmask[:]...)
	b = append(b, lan.Gateway[:]...)
	b = binary.BigEndian.AppendUint16(b, lan.Port)
	if lan.DHCP {
		return append(b, 1)
	}
	return append(b, 0)
}

func (s *Server) setLAN(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.lan.IP[:], p[0:4])
	copy(s.lan.Netmask[:], p[4:8])
	copy(s.lan.Gateway[:], p[8:12])
	s.lan.Port = binary.BigEndian.Uint16(p[12:14])
	s.lan.DHCP = p[14] != 0
}
