package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"
)

func TestDecodeFrame_Message(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"type":"present_review","payload":{"content":"# hi"},"id":"r1"}`))
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if frame.Message == nil {
		t.Fatal("expected a message frame")
	}
	if frame.Message.Type != "present_review" {
		t.Errorf("Type = %q, want %q", frame.Message.Type, "present_review")
	}
	if frame.Message.ID != "r1" {
		t.Errorf("ID = %q, want %q", frame.Message.ID, "r1")
	}
}

func TestDecodeFrame_Response(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"id":"r1","success":true,"data":{"ok":1}}`))
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if frame.Response == nil {
		t.Fatal("expected a response frame")
	}
	if !frame.Response.Success {
		t.Error("Success = false, want true")
	}
}

func TestDecodeFrame_AckNullTerminal(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"sessionId":"s1","terminalId":null}`))
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if frame.Ack == nil {
		t.Fatal("expected an ack frame")
	}
	if frame.Ack.TerminalID != nil {
		t.Errorf("TerminalID = %v, want nil", *frame.Ack.TerminalID)
	}
}

func TestDecodeFrame_Malformed(t *testing.T) {
	cases := []string{
		`not json at all`,
		`{"neither":"fish","nor":"fowl"}`,
		`[1,2,3]`,
	}
	for _, input := range cases {
		_, err := DecodeFrame([]byte(input))
		if !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("DecodeFrame(%q) error = %v, want ErrMalformedFrame", input, err)
		}
	}
}

// rwBuffer joins a read source and a write sink into one ReadWriter.
type rwBuffer struct {
	io.Reader
	io.Writer
}

func TestFramer_SplitAcrossReads(t *testing.T) {
	pr, pw := io.Pipe()
	f := NewFramer(rwBuffer{Reader: pr, Writer: io.Discard})

	go func() {
		pw.Write([]byte(`{"type":"announce","pay`))
		pw.Write([]byte(`load":{"pid":42},"id":"a1"}` + "\n"))
		pw.Close()
	}()

	frame, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if frame.Message == nil || frame.Message.Type != TypeAnnounce {
		t.Fatalf("got %+v, want announce message", frame)
	}
}

func TestFramer_MultipleFramesInOneRead(t *testing.T) {
	var input bytes.Buffer
	input.WriteString(`{"type":"status","id":"s1"}` + "\n")
	input.WriteString(`{"type":"status","id":"s2"}` + "\n")
	f := NewFramer(rwBuffer{Reader: &input, Writer: io.Discard})

	for _, want := range []string{"s1", "s2"} {
		frame, err := f.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() error = %v", err)
		}
		if frame.Message == nil || frame.Message.ID != want {
			t.Fatalf("got %+v, want message id %q", frame, want)
		}
	}
	if _, err := f.ReadFrame(); err != io.EOF {
		t.Errorf("ReadFrame() after drain = %v, want io.EOF", err)
	}
}

func TestFramer_CorruptedFrameThenValid(t *testing.T) {
	var input bytes.Buffer
	input.WriteString("%%% not json %%%\n")
	input.WriteString(`{"type":"announce","payload":{"pid":7},"id":"a1"}` + "\n")
	f := NewFramer(rwBuffer{Reader: &input, Writer: io.Discard})

	_, err := f.ReadFrame()
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("first ReadFrame() error = %v, want ErrMalformedFrame", err)
	}

	frame, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("second ReadFrame() error = %v", err)
	}
	if frame.Message == nil || frame.Message.Type != TypeAnnounce {
		t.Fatalf("got %+v, want announce message", frame)
	}
}

func TestFramer_SkipsBlankLines(t *testing.T) {
	var input bytes.Buffer
	input.WriteString("\n\n")
	input.WriteString(`{"type":"status","id":"s1"}` + "\n")
	f := NewFramer(rwBuffer{Reader: &input, Writer: io.Discard})

	frame, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if frame.Message == nil || frame.Message.ID != "s1" {
		t.Fatalf("got %+v, want message id s1", frame)
	}
}

func TestFramer_FinalFrameWithoutNewline(t *testing.T) {
	input := bytes.NewBufferString(`{"id":"r9","success":false,"error":"nope"}`)
	f := NewFramer(rwBuffer{Reader: input, Writer: io.Discard})

	frame, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if frame.Response == nil || frame.Response.Error != "nope" {
		t.Fatalf("got %+v, want failure response", frame)
	}
}

func TestFramer_WriteRoundTrip(t *testing.T) {
	var out bytes.Buffer
	f := NewFramer(rwBuffer{Reader: bytes.NewReader(nil), Writer: &out})

	payload, _ := json.Marshal(map[string]int{"pid": 99})
	if err := f.WriteMessage(&Message{Type: TypeAnnounce, Payload: payload, ID: "a1"}); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	term := "35059"
	if err := f.WriteAck(&Ack{SessionID: "s1", TerminalID: &term}); err != nil {
		t.Fatalf("WriteAck() error = %v", err)
	}

	reader := NewFramer(rwBuffer{Reader: &out, Writer: io.Discard})
	frame, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if frame.Message == nil || frame.Message.ID != "a1" {
		t.Fatalf("got %+v, want message a1", frame)
	}
	frame, err = reader.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if frame.Ack == nil || frame.Ack.TerminalID == nil || *frame.Ack.TerminalID != "35059" {
		t.Fatalf("got %+v, want ack with terminal 35059", frame)
	}
}
