package dcep

import "testing"

func buildOpen(channelType uint8, priority uint16, reliability uint32, label, protocol string) []byte {
	buf := make([]byte, openFixedLen+len(label)+len(protocol))
	buf[0] = messageTypeOpen
	buf[1] = channelType
	buf[2] = byte(priority >> 8)
	buf[3] = byte(priority)
	buf[4] = byte(reliability >> 24)
	buf[5] = byte(reliability >> 16)
	buf[6] = byte(reliability >> 8)
	buf[7] = byte(reliability)
	buf[8] = byte(len(label) >> 8)
	buf[9] = byte(len(label))
	buf[10] = byte(len(protocol) >> 8)
	buf[11] = byte(len(protocol))
	copy(buf[openFixedLen:], label)
	copy(buf[openFixedLen+len(label):], protocol)
	return buf
}

func TestIsOpenAndIsAck(t *testing.T) {
	open := buildOpen(ChannelReliableUnordered, 0, 0, "chat", "")
	if !IsOpen(open) {
		t.Errorf("IsOpen(open) = false, want true")
	}
	if IsAck(open) {
		t.Errorf("IsAck(open) = true, want false")
	}

	ack := BuildAck()
	if !IsAck(ack) {
		t.Errorf("IsAck(ack) = false, want true")
	}
	if IsOpen(ack) {
		t.Errorf("IsOpen(ack) = true, want false")
	}
}

func TestParseOpen(t *testing.T) {
	open := buildOpen(ChannelReliableUnordered, 5, 0, "chat", "proto")
	info, ok := ParseOpen(open)
	if !ok {
		t.Fatalf("ParseOpen: not ok")
	}
	if info.ChannelType != ChannelReliableUnordered {
		t.Errorf("ChannelType = %#x, want %#x", info.ChannelType, ChannelReliableUnordered)
	}
	if info.Priority != 5 {
		t.Errorf("Priority = %d, want 5", info.Priority)
	}
	if info.Label != "chat" {
		t.Errorf("Label = %q, want chat", info.Label)
	}
}

func TestParseOpenRejectsNonOpen(t *testing.T) {
	if _, ok := ParseOpen(BuildAck()); ok {
		t.Fatalf("ParseOpen succeeded on an ACK message")
	}
}

func TestParseOpenRejectsTruncated(t *testing.T) {
	short := []byte{messageTypeOpen, 0, 0, 0}
	if _, ok := ParseOpen(short); ok {
		t.Fatalf("ParseOpen succeeded on truncated payload")
	}
}

func TestBuildAckIsSingleByte(t *testing.T) {
	ack := BuildAck()
	if len(ack) != 1 || ack[0] != messageTypeAck {
		t.Errorf("BuildAck() = %v, want [%#x]", ack, messageTypeAck)
	}
}
