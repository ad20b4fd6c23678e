package summa

import "testing"

func TestValidateCommandEnvelopeKnownType(t *testing.T) {
	cmd, err := NewCommand(CmdSeek, SeekBody{DeltaSeconds: 10})
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	cmd.ID = "id"
	cmd.TS = 1
	cmd.From = "tester"
	if err := ValidateCommandEnvelope(cmd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cmd.Type = "queue.add"
	if err := ValidateCommandEnvelope(cmd); err == nil {
		t.Fatalf("expected unknown command error")
	}
}

func TestValidateCommandEnvelopeMissingFields(t *testing.T) {
	cmd := CommandEnvelope{}
	if err := ValidateCommandEnvelope(cmd); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTopics(t *testing.T) {
	if got := TopicState(BaseTopic, "den"); got != "summarist/v1/player/den/state" {
		t.Fatalf("state topic: %s", got)
	}
	if got := TopicCommands(BaseTopic, "den"); got != "summarist/v1/player/den/cmd" {
		t.Fatalf("cmd topic: %s", got)
	}
}
