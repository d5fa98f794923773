package wire

import "testing"

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	f := Frame{Type: TypeText, SequenceSize: 1, Sequence: 0, RequestID: 42, Payload: []byte(`{"function":"login"}`)}
	b, err := Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != f.Type || got.RequestID != f.RequestID || string(got.Payload) != string(f.Payload) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, f)
	}
}

func TestUnmarshalDataTooSmall(t *testing.T) {
	_, err := Unmarshal([]byte{1, 2, 3})
	if err != ErrDataTooSmall {
		t.Fatalf("want ErrDataTooSmall, got %v", err)
	}
}

func TestUnmarshalInvalidLength(t *testing.T) {
	f := Frame{Type: TypeBinary, Payload: []byte("abc")}
	b, _ := Marshal(f)
	b = append(b, 0xFF) // length no longer matches byte count
	_, err := Unmarshal(b)
	if err != ErrInvalidData {
		t.Fatalf("want ErrInvalidData, got %v", err)
	}
}

func TestUnmarshalHashMismatch(t *testing.T) {
	f := Frame{Type: TypeBinary, Payload: []byte("abc")}
	b, _ := Marshal(f)
	b[len(b)-1] ^= 0xFF // corrupt the payload after the hash was computed
	_, err := Unmarshal(b)
	if err != ErrHashMismatch {
		t.Fatalf("want ErrHashMismatch, got %v", err)
	}
}

func TestAssemblerSingleFrame(t *testing.T) {
	f := Frame{Type: TypeHeartBeat}
	b, _ := Marshal(f)
	var a Assembler
	a.Write(b)
	if !a.CanRead() {
		t.Fatal("expected CanRead true")
	}
	got, err := a.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != TypeHeartBeat {
		t.Fatalf("got type %v", got.Type)
	}
	if a.CanRead() {
		t.Fatal("expected buffer drained")
	}
}

func TestAssemblerConcatenatedFrames(t *testing.T) {
	f1, _ := Marshal(Frame{Type: TypeText, Payload: []byte("one")})
	f2, _ := Marshal(Frame{Type: TypeText, Payload: []byte("two")})
	var a Assembler
	a.Write(f1)
	a.Write(f2)
	first, err := a.Read()
	if err != nil || string(first.Payload) != "one" {
		t.Fatalf("first frame: %v %+v", err, first)
	}
	if !a.CanRead() {
		t.Fatal("expected second frame available")
	}
	second, err := a.Read()
	if err != nil || string(second.Payload) != "two" {
		t.Fatalf("second frame: %v %+v", err, second)
	}
}

func TestAssemblerPartialWrite(t *testing.T) {
	b, _ := Marshal(Frame{Type: TypeText, Payload: []byte("hello")})
	var a Assembler
	a.Write(b[:5])
	if a.CanRead() {
		t.Fatal("expected CanRead false on partial header")
	}
	a.Write(b[5:])
	if !a.CanRead() {
		t.Fatal("expected CanRead true once complete")
	}
}

func TestMarshalTooLarge(t *testing.T) {
	_, err := Marshal(Frame{Payload: make([]byte, MaxFrameLength+1)})
	if err != ErrDataTooLarge {
		t.Fatalf("want ErrDataTooLarge, got %v", err)
	}
}
