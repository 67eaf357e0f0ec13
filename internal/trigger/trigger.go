// Package trigger decides what the relay does with an inbound event: forward
// it as a command, forward it as chat, or ignore it.
package trigger

import (
	"fmt"
	"sort"
	"strings"

	"relaybot/internal/domain"
)

// Trigger is a condition that lets a non-command message through as chat.
type Trigger string

const (
	Mention Trigger = "MENTION"
	DM      Trigger = "DM"
	Reply   Trigger = "REPLY"
	All     Trigger = "ALL"
)

var known = map[Trigger]bool{Mention: true, DM: true, Reply: true, All: true}

// Set is a set of chat triggers. It parses from and prints as a
// comma-separated list, e.g. "MENTION,DM,REPLY".
type Set map[Trigger]bool

// DefaultSet is used when no triggers are configured.
func DefaultSet() Set {
	return Set{Mention: true, DM: true, Reply: true}
}

// ParseSet parses a comma-separated trigger list. Names are case-insensitive;
// blanks are skipped.
func ParseSet(s string) (Set, error) {
	set := Set{}
	for _, part := range strings.Split(s, ",") {
		name := Trigger(strings.ToUpper(strings.TrimSpace(part)))
		if name == "" {
			continue
		}
		if !known[name] {
			return nil, fmt.Errorf("unknown chat trigger %q (want MENTION, DM, REPLY or ALL)", string(name))
		}
		set[name] = true
	}
	return set, nil
}

// Has reports whether t is in the set.
func (s Set) Has(t Trigger) bool { return s[t] }

// String renders the set in a stable order.
func (s Set) String() string {
	names := make([]string, 0, len(s))
	for t := range s {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func (s *Set) UnmarshalText(text []byte) error {
	parsed, err := ParseSet(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Set) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Rules is the part of the configuration the evaluator reads.
type Rules struct {
	AllowedChannels []string
	CommandPrefix   string
	Triggers        Set
}

// Kind is the classification outcome.
type Kind int

const (
	Ignore Kind = iota
	Command
	Chat
)

func (k Kind) String() string {
	switch k {
	case Command:
		return "command"
	case Chat:
		return "chat"
	default:
		return "ignore"
	}
}

// Ignore reasons.
const (
	ReasonBotAuthor         = "bot_author"
	ReasonChannelNotAllowed = "channel_not_allowed"
	ReasonNoTrigger         = "no_trigger"
)

// Result is the outcome of Classify. Command and Args are only set for
// Command; Trigger only for Chat; Reason only for Ignore.
type Result struct {
	Kind    Kind
	Command string
	Args    []string
	Trigger Trigger
	Reason  string
}

// Classify applies the rules in order, first match wins: bot authors and
// channels outside a non-empty allow-list are ignored, prefixed messages are
// commands, and everything else must match a chat trigger.
func Classify(ev domain.InboundEvent, rules Rules, self domain.SelfIdentity) Result {
	if ev.AuthorIsBot {
		return Result{Kind: Ignore, Reason: ReasonBotAuthor}
	}

	if len(rules.AllowedChannels) > 0 && !contains(rules.AllowedChannels, ev.ChannelID) {
		return Result{Kind: Ignore, Reason: ReasonChannelNotAllowed}
	}

	if rules.CommandPrefix != "" && strings.HasPrefix(ev.Content, rules.CommandPrefix) {
		name, args := ParseCommand(strings.TrimPrefix(ev.Content, rules.CommandPrefix))
		return Result{Kind: Command, Command: name, Args: args}
	}

	if t, ok := matchTrigger(ev, rules.Triggers, self); ok {
		return Result{Kind: Chat, Trigger: t}
	}
	return Result{Kind: Ignore, Reason: ReasonNoTrigger}
}

// ParseCommand splits the text after the prefix on whitespace. The first
// token is the command name; the rest are its arguments in order. Args is
// never nil.
func ParseCommand(rest string) (string, []string) {
	parts := strings.Fields(rest)
	if len(parts) == 0 {
		return "", []string{}
	}
	return parts[0], append([]string{}, parts[1:]...)
}

func matchTrigger(ev domain.InboundEvent, set Set, self domain.SelfIdentity) (Trigger, bool) {
	switch {
	case set.Has(All):
		return All, true
	case set.Has(DM) && ev.IsDM():
		return DM, true
	case set.Has(Mention) && self.ID != "" && ev.Mentions(self.ID):
		return Mention, true
	case set.Has(Reply) && self.ID != "" && ev.ReplyToAuthorID != nil && *ev.ReplyToAuthorID == self.ID:
		return Reply, true
	}
	return "", false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
