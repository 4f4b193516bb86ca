package wire

import (
	"testing"
	"time"

	"groupwire/internal/peer"
)

func TestDecodeServerAlive(t *testing.T) {
	env, err := Decode(EncodeServerAlive("10.0.0.1", "host1", "startup"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Kind != KindServerAlive {
		t.Fatalf("Kind = %v", env.Kind)
	}
	if env.Text.IP != "10.0.0.1" || env.Text.Hostname != "host1" || env.Text.Phase != "startup" {
		t.Errorf("unexpected text message: %+v", env.Text)
	}
}

func TestDecodeServerAliveWithoutPhase(t *testing.T) {
	env, err := Decode(EncodeServerAlive("10.0.0.1", "host1", ""))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Text.Phase != "" {
		t.Errorf("expected empty phase, got %q", env.Text.Phase)
	}
}

func TestDecodeJoinAndLeave(t *testing.T) {
	env, err := Decode(EncodeJoin("42", "general"))
	if err != nil {
		t.Fatalf("Decode join: %v", err)
	}
	if env.Kind != KindJoin || env.Text.ClientID != "42" || env.Text.Group != "general" {
		t.Errorf("unexpected join envelope: %+v", env.Text)
	}

	env, err = Decode(EncodeLeave("alice", ""))
	if err != nil {
		t.Fatalf("Decode leave: %v", err)
	}
	if env.Kind != KindLeave || env.Text.ClientID != "alice" {
		t.Errorf("unexpected leave envelope: %+v", env.Text)
	}
}

func TestDecodeElectionFamily(t *testing.T) {
	for _, kind := range []Kind{KindElection, KindOK, KindCoordinator} {
		msg := NewElection(kind, peer.ID(5))
		data, err := msg.Marshal()
		if err != nil {
			t.Fatalf("Marshal %s: %v", kind, err)
		}
		env, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode %s: %v", kind, err)
		}
		if env.Kind != kind || env.Election.SenderID != 5 {
			t.Errorf("%s: unexpected envelope %+v", kind, env)
		}
	}
}

func TestDecodeReliableEnvelope(t *testing.T) {
	inner := &ReliableMessage{MsgID: "m1", SenderID: 3, MsgType: "chat", Payload: "hi", Timestamp: time.Now(), SequenceNum: 1, Checksum: "abc"}
	env := &ReliableEnvelope{Message: inner, Targets: []peer.ID{1, 2}}
	data, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Kind != KindReliable {
		t.Fatalf("Kind = %v", decoded.Kind)
	}
	if decoded.Reliable.Message.MsgID != "m1" || len(decoded.Reliable.Targets) != 2 {
		t.Errorf("unexpected reliable envelope: %+v", decoded.Reliable)
	}
}

func TestDecodeReliableEnvelopeMissingMessage(t *testing.T) {
	_, err := Decode([]byte(`{"type":"RELIABLE_MSG"}`))
	if err == nil {
		t.Error("expected an error for a reliable envelope with no message")
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("   "),
		[]byte("NOT_A_KNOWN_KIND:foo"),
		[]byte(`{"type":"nonsense"}`),
		[]byte(`{not even json`),
	}
	for _, c := range cases {
		if _, err := Decode(c); err == nil {
			t.Errorf("expected Decode(%q) to fail", c)
		}
	}
}

func TestParseIDRoundTrip(t *testing.T) {
	id := peer.ID(12345)
	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if parsed != id {
		t.Errorf("ParseID(%q) = %d, want %d", id.String(), parsed, id)
	}

	if _, err := ParseID("not-a-number"); err == nil {
		t.Error("expected an error for a non-numeric id")
	}
}

func TestPartitionProbeRoundTrip(t *testing.T) {
	msg := &PartitionProbeMessage{SenderID: 1, TargetID: 2, Timestamp: time.Now()}
	data, err := msg.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Kind != KindPartitionProbe || env.PartitionProbe.SenderID != 1 || env.PartitionProbe.TargetID != 2 {
		t.Errorf("unexpected envelope: %+v", env)
	}
}
