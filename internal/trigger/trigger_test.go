package trigger

import (
	"reflect"
	"testing"

	"relaybot/internal/domain"
)

var self = domain.SelfIdentity{ID: "999", Username: "relay"}

func strPtr(s string) *string { return &s }

func guildEvent(content string) domain.InboundEvent {
	return domain.InboundEvent{
		MessageID: "m1",
		ChannelID: "c1",
		GuildID:   strPtr("g1"),
		AuthorID:  "u1",
		Content:   content,
	}
}

func defaultRules() Rules {
	return Rules{CommandPrefix: "!", Triggers: DefaultSet()}
}

func TestClassify_BotAuthorAlwaysIgnored(t *testing.T) {
	rules := Rules{CommandPrefix: "!", Triggers: Set{All: true}}
	for _, content := range []string{"!ping", "hello", "<@999> hi", ""} {
		ev := guildEvent(content)
		ev.AuthorIsBot = true
		ev.MentionIDs = []string{"999"}
		got := Classify(ev, rules, self)
		if got.Kind != Ignore || got.Reason != ReasonBotAuthor {
			t.Errorf("content %q: expected bot ignore, got %+v", content, got)
		}
	}
}

func TestClassify_SelfAuthorIgnored(t *testing.T) {
	ev := guildEvent("!ping")
	ev.AuthorID = self.ID
	ev.AuthorIsBot = true
	if got := Classify(ev, defaultRules(), self); got.Kind != Ignore {
		t.Fatalf("expected ignore for own message, got %v", got.Kind)
	}
}

func TestClassify_AllowListBlocksCommands(t *testing.T) {
	rules := defaultRules()
	rules.AllowedChannels = []string{"other"}

	got := Classify(guildEvent("!ping foo"), rules, self)
	if got.Kind != Ignore || got.Reason != ReasonChannelNotAllowed {
		t.Fatalf("expected channel ignore, got %+v", got)
	}
}

func TestClassify_AllowListPasses(t *testing.T) {
	rules := defaultRules()
	rules.AllowedChannels = []string{"x", "c1"}

	if got := Classify(guildEvent("!ping"), rules, self); got.Kind != Command {
		t.Fatalf("expected command, got %v", got.Kind)
	}
}

func TestClassify_Command(t *testing.T) {
	got := Classify(guildEvent("!ping foo bar"), defaultRules(), self)
	if got.Kind != Command {
		t.Fatalf("expected command, got %v", got.Kind)
	}
	if got.Command != "ping" {
		t.Errorf("expected ping, got %q", got.Command)
	}
	if !reflect.DeepEqual(got.Args, []string{"foo", "bar"}) {
		t.Errorf("unexpected args: %#v", got.Args)
	}
}

func TestClassify_CommandCustomPrefix(t *testing.T) {
	rules := defaultRules()
	rules.CommandPrefix = "?!"

	got := Classify(guildEvent("?!roll   2d6\t+3"), rules, self)
	if got.Kind != Command || got.Command != "roll" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if !reflect.DeepEqual(got.Args, []string{"2d6", "+3"}) {
		t.Errorf("unexpected args: %#v", got.Args)
	}

	if got := Classify(guildEvent("!roll"), rules, self); got.Kind == Command {
		t.Error("default prefix should not match a custom prefix")
	}
}

func TestClassify_BarePrefix(t *testing.T) {
	got := Classify(guildEvent("!"), defaultRules(), self)
	if got.Kind != Command {
		t.Fatalf("expected command, got %v", got.Kind)
	}
	if got.Command != "" || got.Args == nil || len(got.Args) != 0 {
		t.Errorf("expected empty command and args, got %+v", got)
	}
}

func TestClassify_MentionTrigger(t *testing.T) {
	rules := Rules{CommandPrefix: "!", Triggers: Set{Mention: true}}

	ev := guildEvent("<@999> hello")
	ev.MentionIDs = []string{"999"}
	got := Classify(ev, rules, self)
	if got.Kind != Chat || got.Trigger != Mention {
		t.Fatalf("expected mention chat, got %+v", got)
	}

	ev.MentionIDs = nil
	if got := Classify(ev, rules, self); got.Kind != Ignore || got.Reason != ReasonNoTrigger {
		t.Fatalf("expected ignore without mention, got %+v", got)
	}
}

func TestClassify_MentionOfSomeoneElse(t *testing.T) {
	ev := guildEvent("<@123> hello")
	ev.MentionIDs = []string{"123"}
	if got := Classify(ev, defaultRules(), self); got.Kind != Ignore {
		t.Fatalf("expected ignore, got %v", got.Kind)
	}
}

func TestClassify_DMTrigger(t *testing.T) {
	ev := guildEvent("hi there")
	ev.GuildID = nil

	if got := Classify(ev, defaultRules(), self); got.Kind != Chat || got.Trigger != DM {
		t.Fatalf("expected dm chat, got %+v", got)
	}

	rules := Rules{CommandPrefix: "!", Triggers: Set{Mention: true}}
	if got := Classify(ev, rules, self); got.Kind != Ignore {
		t.Fatalf("dm without DM trigger should be ignored, got %v", got.Kind)
	}
}

func TestClassify_ReplyTrigger(t *testing.T) {
	rules := Rules{CommandPrefix: "!", Triggers: Set{Reply: true}}

	ev := guildEvent("thanks")
	ev.ReplyToMessageID = strPtr("m0")
	ev.ReplyToAuthorID = strPtr("999")
	if got := Classify(ev, rules, self); got.Kind != Chat || got.Trigger != Reply {
		t.Fatalf("expected reply chat, got %+v", got)
	}

	ev.ReplyToAuthorID = strPtr("555")
	if got := Classify(ev, rules, self); got.Kind != Ignore {
		t.Fatalf("reply to another user should be ignored, got %v", got.Kind)
	}

	ev.ReplyToAuthorID = nil
	if got := Classify(ev, rules, self); got.Kind != Ignore {
		t.Fatalf("reply with unknown author should be ignored, got %v", got.Kind)
	}
}

func TestClassify_AllTrigger(t *testing.T) {
	rules := Rules{CommandPrefix: "!", Triggers: Set{All: true}}
	if got := Classify(guildEvent("just talking"), rules, self); got.Kind != Chat || got.Trigger != All {
		t.Fatalf("expected chat, got %+v", got)
	}
}

func TestClassify_EmptyTriggerSet(t *testing.T) {
	ev := guildEvent("<@999> hi")
	ev.GuildID = nil
	ev.MentionIDs = []string{"999"}
	rules := Rules{CommandPrefix: "!", Triggers: Set{}}
	if got := Classify(ev, rules, self); got.Kind != Ignore {
		t.Fatalf("expected ignore, got %v", got.Kind)
	}
}

func TestParseSet(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"MENTION,DM,REPLY", "DM,MENTION,REPLY", false},
		{" mention , all ", "ALL,MENTION", false},
		{"", "", false},
		{"DM,,DM", "DM", false},
		{"MENTION,EVERYTHING", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSet(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseSet(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSet(%q): %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseSet(%q) = %q, want %q", tt.in, got.String(), tt.want)
		}
	}
}

func TestSet_UnmarshalText(t *testing.T) {
	var s Set
	if err := s.UnmarshalText([]byte("reply")); err != nil {
		t.Fatal(err)
	}
	if !s.Has(Reply) || s.Has(DM) {
		t.Errorf("unexpected set: %v", s)
	}
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("expected error for unknown trigger")
	}
}
