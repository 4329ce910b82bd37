// internal/driver/adc/commands.go
package adc

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"adc-service/internal/codec"
)

// Command names
const (
	CmdGetInfo = "GET_INFO"
	CmdGetLAN  = "GET_LAN"
	CmdSetLAN  = "SET_LAN"
	CmdSetMode = "SET_MODE"
	CmdADCOn   = "ADC_ON"
	CmdADCOff  = "ADC_OFF"
	CmdReboot  = "REBOOT"
)

// DefaultPort is the instrument's command port.
const DefaultPort = 5025

// CommandSpec describes one request/response exchange on the wire.
type CommandSpec struct {
	Name     string
	Opcode   []byte
	Request  codec.Layout
	Response codec.Layout
	// Ack is the exact response expected from a mutating command.
	Ack      []byte
	Mutating bool
}

// ResponseLength is the number of bytes the device answers with.
func (s CommandSpec) ResponseLength() int {
	return s.Response.Size()
}

func (s CommandSpec) clone() CommandSpec {
	s.Opcode = append([]byte(nil), s.Opcode...)
	s.Ack = append([]byte(nil), s.Ack...)
	return s
}

// Override replaces the opcode and/or ack of a command. Values are hex
// strings; spaces are ignored.
type Override struct {
	Opcode string
	Ack    string
}

var (
	infoLayout = codec.Layout{
		codec.Raw("model", 16),
		codec.U32LE("serial"),
		codec.U8("fw_major"),
		codec.U8("fw_minor"),
		codec.U8("fw_patch"),
		codec.U8("channels"),
		codec.U32LE("sample_rate"),
		codec.U16LE("hw_rev"),
		codec.U16LE("status"),
	}

	// lanLayout is shared by the GET_LAN response and the SET_LAN request.
	lanLayout = codec.Layout{
		codec.U8("ip0"), codec.U8("ip1"), codec.U8("ip2"), codec.U8("ip3"),
		codec.U8("mask0"), codec.U8("mask1"), codec.U8("mask2"), codec.U8("mask3"),
		codec.U8("gw0"), codec.U8("gw1"), codec.U8("gw2"), codec.U8("gw3"),
		codec.U16BE("port"),
		codec.U8("dhcp"),
	}

	modeLayout = codec.Layout{
		codec.U8("channels"),
		codec.U8("iepe"),
	}

	ackLayout = codec.Layout{codec.Raw("ack", 4)}
)

func opcode(cmd byte) []byte { return []byte{0xAA, 0x55, cmd, 0x00} }
func ack(cmd byte) []byte    { return []byte{0x55, 0xAA, cmd, 0x00} }

func defaultSpecs() []CommandSpec {
	return []CommandSpec{
		{Name: CmdGetInfo, Opcode: opcode(0x01), Response: infoLayout},
		{Name: CmdGetLAN, Opcode: opcode(0x02), Response: lanLayout},
		{Name: CmdSetLAN, Opcode: opcode(0x03), Request: lanLayout, Response: ackLayout, Ack: ack(0x03), Mutating: true},
		{Name: CmdSetMode, Opcode: opcode(0x04), Request: modeLayout, Response: ackLayout, Ack: ack(0x04), Mutating: true},
		{Name: CmdADCOn, Opcode: opcode(0x05), Response: ackLayout, Ack: ack(0x05), Mutating: true},
		{Name: CmdADCOff, Opcode: opcode(0x06), Response: ackLayout, Ack: ack(0x06), Mutating: true},
		{Name: CmdReboot, Opcode: opcode(0x07), Response: ackLayout, Ack: ack(0x07), Mutating: true},
	}
}

// CommandSet is the immutable registry of supported commands.
type CommandSet struct {
	specs map[string]CommandSpec
}

// DefaultCommands returns the built-in command table.
func DefaultCommands() *CommandSet {
	set, _ := NewCommandSet(nil)
	return set
}

// NewCommandSet builds the command table, applying overrides keyed by
// command name (case-insensitive). An override ack must keep the width of
// the response.
func NewCommandSet(overrides map[string]Override) (*CommandSet, error) {
	set := &CommandSet{specs: make(map[string]CommandSpec)}
	for _, spec := range defaultSpecs() {
		set.specs[spec.Name] = spec
	}

	for name, o := range overrides {
		key := strings.ToUpper(name)
		spec, ok := set.specs[key]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
		}
		if o.Opcode != "" {
			b, err := parseHex(o.Opcode)
			if err != nil {
				return nil, fmt.Errorf("command %s: opcode: %w", key, err)
			}
			spec.Opcode = b
		}
		if o.Ack != "" {
			b, err := parseHex(o.Ack)
			if err != nil {
				return nil, fmt.Errorf("command %s: ack: %w", key, err)
			}
			if !spec.Mutating {
				return nil, fmt.Errorf("command %s: ack set on a non-mutating command", key)
			}
			if len(b) != spec.ResponseLength() {
				return nil, fmt.Errorf("command %s: ack must be %d bytes, got %d", key, spec.ResponseLength(), len(b))
			}
			spec.Ack = b
		}
		set.specs[key] = spec
	}
	return set, nil
}

// Lookup returns a copy of the named command.
func (s *CommandSet) Lookup(name string) (CommandSpec, error) {
	spec, ok := s.specs[strings.ToUpper(name)]
	if !ok {
		return CommandSpec{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return spec.clone(), nil
}

// Names returns the registered command names, sorted.
func (s *CommandSet) Names() []string {
	names := make([]string, 0, len(s.specs))
	for name := range s.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func parseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "0x", "", "0X", "").Replace(s)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("empty hex value")
	}
	return b, nil
}

// ParseMarker parses a hex stream marker such as "AA55AA554144".
func ParseMarker(s string) ([codec.MarkerSize]byte, error) {
	var m [codec.MarkerSize]byte
	b, err := parseHex(s)
	if err != nil {
		return m, fmt.Errorf("stream marker: %w", err)
	}
	if len(b) != codec.MarkerSize {
		return m, fmt.Errorf("stream marker must be %d bytes, got %d", codec.MarkerSize, len(b))
	}
	copy(m[:], b)
	return m, nil
}
