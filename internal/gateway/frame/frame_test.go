package frame

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte(`{"hello":"world"}`),
		{},
		{Start, End, Escape, 0x00, 0xff},
		bytes.Repeat([]byte{Escape}, 32),
	}

	for _, payload := range cases {
		encoded := Encode(payload)
		decoded, remainder, ok, err := Decode(encoded, DefaultMaxBufferSize)
		if err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if !ok {
			t.Fatalf("expected complete frame for %q", payload)
		}
		if !bytes.Equal(decoded, payload) {
			t.Fatalf("round trip mismatch: got %v want %v", decoded, payload)
		}
		if len(remainder) != 0 {
			t.Fatalf("expected empty remainder, got %v", remainder)
		}
	}
}

func TestDecodePartialFrame(t *testing.T) {
	encoded := Encode([]byte("hello"))
	partial := encoded[:len(encoded)-2]

	_, remainder, ok, err := Decode(partial, DefaultMaxBufferSize)
	if err != nil {
		t.Fatalf("unexpected error on partial frame: %v", err)
	}
	if ok {
		t.Fatalf("expected incomplete frame")
	}
	if !bytes.Equal(remainder, partial) {
		t.Fatalf("expected remainder to equal input on incomplete frame")
	}
}

func TestDecodeAcrossArbitraryReadBoundaries(t *testing.T) {
	frames := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	var stream []byte
	for _, f := range frames {
		stream = append(stream, Encode(f)...)
	}

	// Split the concatenated stream at every possible boundary and feed it
	// incrementally; the decoder must yield the same frame sequence regardless.
	for split := 1; split < len(stream); split++ {
		var buf []byte
		var got [][]byte
		chunks := [][]byte{stream[:split], stream[split:]}
		for _, chunk := range chunks {
			buf = append(buf, chunk...)
			for {
				payload, remainder, ok, err := Decode(buf, DefaultMaxBufferSize)
				if err != nil {
					t.Fatalf("split %d: decode error: %v", split, err)
				}
				if !ok {
					buf = remainder
					break
				}
				got = append(got, payload)
				buf = remainder
			}
		}
		if len(got) != len(frames) {
			t.Fatalf("split %d: got %d frames, want %d", split, len(got), len(frames))
		}
		for i := range frames {
			if !bytes.Equal(got[i], frames[i]) {
				t.Fatalf("split %d: frame %d mismatch: got %q want %q", split, i, got[i], frames[i])
			}
		}
	}
}

func TestDecodeGarbageBeforeStartIsFatal(t *testing.T) {
	stream := append([]byte{0x01, 0x02}, Encode([]byte("x"))...)
	_, _, _, err := Decode(stream, DefaultMaxBufferSize)
	if err == nil {
		t.Fatalf("expected garbage error")
	}
	var garbageErr *ErrGarbage
	if !isGarbage(err, &garbageErr) {
		t.Fatalf("expected ErrGarbage, got %T: %v", err, err)
	}
}

func isGarbage(err error, target **ErrGarbage) bool {
	g, ok := err.(*ErrGarbage) //nolint:errorlint // test-local type assertion
	if ok {
		*target = g
	}
	return ok
}

func TestDecodeBufferOverflowIsFatal(t *testing.T) {
	buf := bytes.Repeat([]byte{Start}, 1)
	buf = append(buf, bytes.Repeat([]byte{0x01}, 16)...)
	_, _, _, err := Decode(buf, 8)
	if err == nil {
		t.Fatalf("expected overflow error")
	}
	if _, ok := err.(*ErrBufferExceeded); !ok { //nolint:errorlint // test-local type assertion
		t.Fatalf("expected ErrBufferExceeded, got %T", err)
	}
}
