package b64

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		[]byte("hello world"),
		{0xff, 0xfe, 0xfd, 0x00, 0x01, 0x02},
	}
	for _, in := range cases {
		enc := Encode(in)
		out, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode(%q) error: %v", enc, err)
		}
		if string(out) != string(in) {
			t.Errorf("round trip mismatch: got %v, want %v", out, in)
		}
	}
}

func TestEncodeIsUnpadded(t *testing.T) {
	enc := Encode([]byte("f"))
	for _, c := range enc {
		if c == '=' {
			t.Fatalf("Encode produced padding: %q", enc)
		}
	}
}

func TestDecodeRejectsPadding(t *testing.T) {
	if _, err := Decode("Zg=="); err == nil {
		t.Fatal("expected error decoding padded input")
	}
}

func TestHexRoundTrip(t *testing.T) {
	in := []byte{0xde, 0xad, 0xbe, 0xef}
	enc := EncodeHex(in)
	if enc != "deadbeef" {
		t.Fatalf("EncodeHex = %q, want deadbeef", enc)
	}
	out, err := DecodeHex(enc)
	if err != nil {
		t.Fatalf("DecodeHex error: %v", err)
	}
	if string(out) != string(in) {
		t.Errorf("round trip mismatch: got %x, want %x", out, in)
	}
}

func TestDecodeHexInvalid(t *testing.T) {
	if _, err := DecodeHex("not-hex"); err == nil {
		t.Fatal("expected error for invalid hex")
	}
}
