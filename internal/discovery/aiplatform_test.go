package discovery

import "testing"

func TestIsAIPlatform(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		values []string
		want   bool
	}{
		{name: "openai app name", values: []string{"OpenAI Connector"}, want: true},
		{name: "chatgpt plugin", values: []string{"ChatGPT for Sheets"}, want: true},
		{name: "claude hyphenated", values: []string{"claude-for-docs"}, want: true},
		{name: "client id domain", values: []string{"", "api.openai.com"}, want: true},
		{name: "gemini description", values: []string{"Sync tool", "Powered by Gemini"}, want: true},
		{name: "plain crm", values: []string{"Acme CRM Sync"}, want: false},
		{name: "support bot", values: []string{"customer support bot"}, want: false},
		{name: "gpt embedded in word", values: []string{"encrypted backup"}, want: false},
		{name: "empty", values: nil, want: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsAIPlatform(tc.values...); got != tc.want {
				t.Fatalf("IsAIPlatform(%v) = %v, want %v", tc.values, got, tc.want)
			}
		})
	}
}
