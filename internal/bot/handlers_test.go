package bot

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestForwardSource(t *testing.T) {
	cases := []struct {
		name string
		msg  *tgbotapi.Message
		want string
	}{
		{
			name: "not forwarded",
			msg:  &tgbotapi.Message{},
			want: "",
		},
		{
			name: "user with username",
			msg:  &tgbotapi.Message{ForwardFrom: &tgbotapi.User{UserName: "alice", FirstName: "Alice"}},
			want: "@alice",
		},
		{
			name: "user without username",
			msg:  &tgbotapi.Message{ForwardFrom: &tgbotapi.User{FirstName: "Alice", LastName: "Smith"}},
			want: "Alice Smith",
		},
		{
			name: "channel",
			msg:  &tgbotapi.Message{ForwardFromChat: &tgbotapi.Chat{Title: "Go Digest"}},
			want: "channel: Go Digest",
		},
		{
			name: "hidden sender",
			msg:  &tgbotapi.Message{ForwardSenderName: "Someone Private"},
			want: "Someone Private",
		},
	}
	for _, tc := range cases {
		if got := forwardSource(tc.msg); got != tc.want {
			t.Errorf("%s: forwardSource = %q, want %q", tc.name, got, tc.want)
		}
	}
}
