package phone

import "testing"

func TestFromChatID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"31612345678@s.whatsapp.net", "+31612345678"},
		{"31612345678:12@s.whatsapp.net", "+31612345678"},
		{"+31612345678", "+31612345678"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := FromChatID(tc.in); got != tc.want {
			t.Errorf("FromChatID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestToChatID(t *testing.T) {
	if got := ToChatID("06 12345678"); got != "31612345678@s.whatsapp.net" {
		t.Fatalf("unexpected chat id %q", got)
	}
	if got := ToChatID(""); got != "" {
		t.Fatalf("expected empty chat id, got %q", got)
	}
}
