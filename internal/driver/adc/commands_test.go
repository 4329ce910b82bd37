package adc

import (
	"bytes"
	"errors"
	"testing"

	"adc-service/internal/codec"
)

// sampleValues returns an in-range value for every field of layout.
func sampleValues(layout codec.Layout) []any {
	values := make([]any, len(layout))
	for i, f := range layout {
		switch f.Kind {
		case codec.Bytes:
			b := make([]byte, f.Len)
			for j := range b {
				b[j] = byte('A' + j%26)
			}
			values[i] = b
		case codec.Uint8:
			values[i] = int64(200 + i%50)
		case codec.Int8:
			values[i] = int64(-100)
		case codec.Uint16:
			values[i] = int64(0xBEEF)
		case codec.Int16:
			values[i] = int64(-1234)
		case codec.Uint32:
			values[i] = int64(0xCAFEF00D)
		case codec.Int32:
			values[i] = int64(-7654321)
		}
	}
	return values
}

func TestCommandRoundTrip(t *testing.T) {
	set := DefaultCommands()
	for _, name := range set.Names() {
		spec, err := set.Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", name, err)
		}

		t.Run(name+"/request", func(t *testing.T) {
			params := sampleValues(spec.Request)
			frame, err := codec.EncodeRequest(spec.Opcode, spec.Request, params...)
			if err != nil {
				t.Fatalf("EncodeRequest: %v", err)
			}
			if !bytes.Equal(frame[:len(spec.Opcode)], spec.Opcode) {
				t.Fatalf("opcode prefix = % X", frame[:len(spec.Opcode)])
			}

			// A device echoing the parameter block back.
			rec, err := codec.DecodeResponse(frame[len(spec.Opcode):], spec.Request)
			if err != nil {
				t.Fatalf("DecodeResponse: %v", err)
			}
			assertValues(t, rec, params)
		})

		t.Run(name+"/response", func(t *testing.T) {
			values := sampleValues(spec.Response)
			if spec.Mutating {
				values = []any{spec.Ack}
			}
			raw, err := codec.EncodeRequest([]byte{0}, spec.Response, values...)
			if err != nil {
				t.Fatalf("encode response: %v", err)
			}
			rec, err := codec.DecodeResponse(raw[1:], spec.Response)
			if err != nil {
				t.Fatalf("DecodeResponse: %v", err)
			}
			assertValues(t, rec, values)
		})
	}
}

func assertValues(t *testing.T, rec codec.Record, want []any) {
	t.Helper()
	got := rec.Values()
	if len(got) != len(want) {
		t.Fatalf("got %d values, want %d", len(got), len(want))
	}
	for i := range want {
		switch w := want[i].(type) {
		case []byte:
			if !bytes.Equal(got[i].([]byte), w) {
				t.Fatalf("field %d = % X, want % X", i, got[i], w)
			}
		default:
			if got[i] != w {
				t.Fatalf("field %d = %v, want %v", i, got[i], w)
			}
		}
	}
}

func TestCommandResponseLengthInvariant(t *testing.T) {
	set := DefaultCommands()
	for _, name := range set.Names() {
		spec, _ := set.Lookup(name)
		size := spec.ResponseLength()
		for n := 0; n <= size+8; n++ {
			if n == size {
				continue
			}
			_, err := codec.DecodeResponse(make([]byte, n), spec.Response)
			if !errors.Is(err, codec.ErrDecode) {
				t.Fatalf("%s: %d bytes: error = %v, want ErrDecode", name, n, err)
			}
		}
	}
}

func TestDefaultCommandTable(t *testing.T) {
	set := DefaultCommands()
	want := []string{CmdADCOff, CmdADCOn, CmdGetInfo, CmdGetLAN, CmdReboot, CmdSetLAN, CmdSetMode}
	names := set.Names()
	if len(names) != len(want) {
		t.Fatalf("Names() = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", names, want)
		}
	}

	lan, _ := set.Lookup(CmdGetLAN)
	if len(lan.Response) != 14 || lan.ResponseLength() != 15 {
		t.Fatalf("GET_LAN layout: %d fields, %d bytes", len(lan.Response), lan.ResponseLength())
	}
	info, _ := set.Lookup("get_info")
	if info.ResponseLength() != 32 {
		t.Fatalf("GET_INFO response length = %d", info.ResponseLength())
	}
	off, _ := set.Lookup(CmdADCOff)
	if !bytes.Equal(off.Ack, []byte{0x55, 0xAA, 0x06, 0x00}) {
		t.Fatalf("ADC_OFF ack = % X", off.Ack)
	}
}

func TestCommandSetOverrides(t *testing.T) {
	set, err := NewCommandSet(map[string]Override{
		"get_info": {Opcode: "AA 55 21 00"},
		"ADC_OFF":  {Ack: "0x55AA2600"},
	})
	if err != nil {
		t.Fatalf("NewCommandSet: %v", err)
	}

	info, _ := set.Lookup(CmdGetInfo)
	if !bytes.Equal(info.Opcode, []byte{0xAA, 0x55, 0x21, 0x00}) {
		t.Fatalf("GET_INFO opcode = % X", info.Opcode)
	}
	off, _ := set.Lookup(CmdADCOff)
	if !bytes.Equal(off.Ack, []byte{0x55, 0xAA, 0x26, 0x00}) {
		t.Fatalf("ADC_OFF ack = % X", off.Ack)
	}

	// Lookup hands out copies.
	info.Opcode[2] = 0xFF
	again, _ := set.Lookup(CmdGetInfo)
	if again.Opcode[2] != 0x21 {
		t.Fatal("Lookup exposed internal opcode slice")
	}

	tests := map[string]map[string]Override{
		"unknown command":  {"SELF_DESTRUCT": {Opcode: "01"}},
		"bad hex":          {"GET_LAN": {Opcode: "zz"}},
		"ack on getter":    {"GET_LAN": {Ack: "55AA0200"}},
		"ack wrong length": {"REBOOT": {Ack: "55AA07"}},
	}
	for name, overrides := range tests {
		if _, err := NewCommandSet(overrides); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	if _, err := set.Lookup("NOPE"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("Lookup(NOPE) error = %v", err)
	}
}
