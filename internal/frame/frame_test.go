package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/gobwas/ws"
)

func TestRoundTripSmallPayloads(t *testing.T) {
	kinds := []Kind{Text, Binary, Close, Ping, Pong}
	for _, k := range kinds {
		for n := 0; n <= 125; n += 25 {
			p := bytes.Repeat([]byte{'x'}, n)
			b, err := Encode(p, k, true)
			if err != nil {
				t.Fatalf("encode %s/%d: %v", k, n, err)
			}
			f, used, err := Decode(b)
			if err != nil {
				t.Fatalf("decode %s/%d: %v", k, n, err)
			}
			if used != len(b) {
				t.Errorf("%s/%d: consumed %d of %d", k, n, used, len(b))
			}
			if f.Kind != k || !bytes.Equal(f.Payload, p) {
				t.Errorf("%s/%d: got kind %s payload %q", k, n, f.Kind, f.Payload)
			}
		}
	}
}

func TestLengthWidths(t *testing.T) {
	cases := []struct {
		n      int
		marker byte
		hdr    int
	}{
		{125, 125, 2},
		{126, 126, 4},
		{65535, 126, 4},
		{65536, 127, 10},
	}
	for _, c := range cases {
		p := make([]byte, c.n)
		for i := range p {
			p[i] = byte(i)
		}
		plain, err := Encode(p, Text, false)
		if err != nil {
			t.Fatalf("encode %d: %v", c.n, err)
		}
		if plain[0] != 0x81 {
			t.Errorf("%d: first byte %#x", c.n, plain[0])
		}
		if plain[1] != c.marker {
			t.Errorf("%d: length marker %d, want %d", c.n, plain[1], c.marker)
		}
		if len(plain) != c.hdr+c.n {
			t.Errorf("%d: frame length %d, want %d", c.n, len(plain), c.hdr+c.n)
		}

		masked, err := Encode(p, Text, true)
		if err != nil {
			t.Fatalf("encode masked %d: %v", c.n, err)
		}
		if masked[1] != maskBit|c.marker {
			t.Errorf("%d: masked length byte %#x", c.n, masked[1])
		}
		f, used, err := Decode(masked)
		if err != nil {
			t.Fatalf("decode %d: %v", c.n, err)
		}
		if used != len(masked) || !bytes.Equal(f.Payload, p) {
			t.Errorf("%d: round trip mismatch (used %d)", c.n, used)
		}
	}
}

func TestFirstBytes(t *testing.T) {
	want := map[Kind]byte{Text: 0x81, Binary: 0x82, Close: 0x88, Ping: 0x89, Pong: 0x8A}
	for k, b := range want {
		out, err := Encode(nil, k, false)
		if err != nil {
			t.Fatal(err)
		}
		if out[0] != b {
			t.Errorf("%s: first byte %#x want %#x", k, out[0], b)
		}
	}
	if _, err := Encode(nil, Kind(0x3), false); !errors.Is(err, ErrUnknownOpcode) {
		t.Errorf("expected unknown opcode, got %v", err)
	}
}

func TestIncompleteNeverErrors(t *testing.T) {
	p := bytes.Repeat([]byte("abc"), 30000)
	b, err := Encode(p, Text, true)
	if err != nil {
		t.Fatal(err)
	}
	for cut := 0; cut < len(b); cut += 997 {
		_, used, err := Decode(b[:cut])
		if !errors.Is(err, ErrIncomplete) {
			t.Fatalf("cut %d: expected ErrIncomplete, got %v", cut, err)
		}
		if used != 0 {
			t.Fatalf("cut %d: consumed %d bytes", cut, used)
		}
	}
	if _, _, err := Decode(b[:len(b)-1]); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("one byte short: %v", err)
	}
}

func TestUnmaskedIsProtocolError(t *testing.T) {
	for _, k := range []Kind{Text, Binary, Close, Ping, Pong} {
		b, _ := Encode([]byte("hi"), k, false)
		_, _, err := Decode(b)
		if !errors.Is(err, ErrUnmasked) {
			t.Errorf("%s: expected ErrUnmasked, got %v", k, err)
		}
		var fe *Error
		if !errors.As(err, &fe) || fe.Code != CloseProtocolError {
			t.Errorf("%s: expected close code 1002, got %v", k, err)
		}
	}
	// Even an unknown opcode reports the missing mask first.
	if _, _, err := Decode([]byte{0x83, 0x00}); !errors.Is(err, ErrUnmasked) {
		t.Errorf("unknown unmasked opcode: %v", err)
	}
}

func TestUnknownOpcode(t *testing.T) {
	_, _, err := Decode([]byte{0x83, 0x80, 0, 0, 0, 0})
	if !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("expected unknown opcode, got %v", err)
	}
}

func TestOversize(t *testing.T) {
	hdr := []byte{0x81, 0xFF, 0x80, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4}
	if _, _, err := Decode(hdr); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("top length bit: expected too large, got %v", err)
	}
	b, _ := Encode(make([]byte, 200), Text, true)
	d := Decoder{MaxPayload: 100}
	if _, _, err := d.Decode(b); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("limit: expected too large, got %v", err)
	}
}

func TestPipelinedFrames(t *testing.T) {
	a, _ := Encode([]byte("first"), Text, true)
	b, _ := Encode([]byte("second"), Text, true)
	buf := append(append([]byte{}, a...), b...)

	f, used, err := Decode(buf)
	if err != nil || string(f.Payload) != "first" || used != len(a) {
		t.Fatalf("first frame: %q %d %v", f.Payload, used, err)
	}
	f, used, err = Decode(buf[used:])
	if err != nil || string(f.Payload) != "second" || used != len(b) {
		t.Fatalf("second frame: %q %d %v", f.Payload, used, err)
	}
}

func TestKnownMask(t *testing.T) {
	out, err := encode([]byte("Hello"), Text, true, [4]byte{0x37, 0xfa, 0x21, 0x3d})
	if err != nil {
		t.Fatal(err)
	}
	// RFC 6455 section 5.7 example.
	want := []byte{0x81, 0x85, 0x37, 0xfa, 0x21, 0x3d, 0x7f, 0x9f, 0x4d, 0x51, 0x58}
	if !bytes.Equal(out, want) {
		t.Errorf("got % x want % x", out, want)
	}
}

func TestDecodesForeignMaskedFrames(t *testing.T) {
	for _, n := range []int{0, 5, 125, 126, 65535, 65536} {
		p := bytes.Repeat([]byte{'z'}, n)
		raw, err := ws.CompileFrame(ws.MaskFrame(ws.NewTextFrame(p)))
		if err != nil {
			t.Fatal(err)
		}
		f, used, err := Decode(raw)
		if err != nil {
			t.Fatalf("%d: %v", n, err)
		}
		if f.Kind != Text || used != len(raw) || !bytes.Equal(f.Payload, p) {
			t.Errorf("%d: mismatch kind=%s used=%d", n, f.Kind, used)
		}
	}
}

func TestForeignReaderAcceptsOurFrames(t *testing.T) {
	for _, masked := range []bool{false, true} {
		p := bytes.Repeat([]byte("relay"), 20000)
		b, err := Encode(p, Binary, masked)
		if err != nil {
			t.Fatal(err)
		}
		r := bytes.NewReader(b)
		h, err := ws.ReadHeader(r)
		if err != nil {
			t.Fatalf("masked=%v: %v", masked, err)
		}
		if h.OpCode != ws.OpBinary || !h.Fin || h.Masked != masked || h.Length != int64(len(p)) {
			t.Fatalf("masked=%v: unexpected header %+v", masked, h)
		}
		got := make([]byte, h.Length)
		if _, err := io.ReadFull(r, got); err != nil {
			t.Fatal(err)
		}
		if h.Masked {
			ws.Cipher(got, h.Mask, 0)
		}
		if !bytes.Equal(got, p) {
			t.Errorf("masked=%v: payload mismatch", masked)
		}
	}
}

func TestDecoderAllowUnmasked(t *testing.T) {
	b, _ := Encode([]byte("Yok"), Text, false)
	f, _, err := Decoder{AllowUnmasked: true}.Decode(b)
	if err != nil || string(f.Payload) != "Yok" {
		t.Fatalf("got %q %v", f.Payload, err)
	}
}
