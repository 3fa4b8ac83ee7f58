package network

import (
	"bytes"
	"io"
	"testing"
)

func TestEncodeDecodePacket(t *testing.T) {
	data := []byte(`{"code":"ABC123"}`)
	raw, err := EncodePacket(MsgTypeRoll, data)
	if err != nil {
		t.Fatalf("EncodePacket failed: %v", err)
	}
	if len(raw) != 4+len(data) {
		t.Fatalf("Expected %d bytes, got %d", 4+len(data), len(raw))
	}

	packet, err := DecodePacket(raw)
	if err != nil {
		t.Fatalf("DecodePacket failed: %v", err)
	}
	if packet.MsgID != MsgTypeRoll {
		t.Errorf("Expected msg id %d, got %d", MsgTypeRoll, packet.MsgID)
	}
	if int(packet.Length) != len(data) || !bytes.Equal(packet.Data, data) {
		t.Errorf("Payload mismatch: %q", packet.Data)
	}
}

func TestDecodePacket_Short(t *testing.T) {
	if _, err := DecodePacket([]byte{0, 1, 0}); err != io.ErrShortBuffer {
		t.Errorf("Expected io.ErrShortBuffer for a truncated header, got %v", err)
	}
	// header announces 10 bytes, only 2 follow
	if _, err := DecodePacket([]byte{0, 1, 0, 10, 'a', 'b'}); err != io.ErrShortBuffer {
		t.Errorf("Expected io.ErrShortBuffer for a truncated payload, got %v", err)
	}
}

func TestEncodePacket_TooLarge(t *testing.T) {
	if _, err := EncodePacket(MsgTypeChat, make([]byte, 70000)); err != ErrPacketTooLarge {
		t.Errorf("Expected ErrPacketTooLarge, got %v", err)
	}
}
