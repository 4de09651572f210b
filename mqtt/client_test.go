package mqtt

import "testing"

func TestTopicMatches(t *testing.T) {
	cases := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"linekit/home/pin/set", "linekit/home/pin/set", true},
		{"linekit/home/pin/set", "linekit/home/pin/get", false},
		{"linekit/+/pin/set", "linekit/home/pin/set", true},
		{"linekit/+/pin/set", "linekit/home/other/set", false},
		{"linekit/#", "linekit/home/pin/set", true},
		{"linekit/#", "other/home/pin/set", false},
		{"linekit/home/pin", "linekit/home/pin/set", false},
		{"linekit/home/pin/set", "linekit/home/pin", false},
		{"+/+/+/+", "linekit/home/pin/set", true},
	}

	for _, c := range cases {
		t.Run(c.filter+" vs "+c.topic, func(t *testing.T) {
			got := topicMatches(c.filter, c.topic)
			if got != c.want {
				t.Errorf("topicMatches(%q, %q) = %v, want %v", c.filter, c.topic, got, c.want)
			}
		})
	}
}

func TestNewClientRejectsBadUrl(t *testing.T) {
	_, err := NewClient("://not-a-url", "linekit")
	if err == nil {
		t.Error("expected error for malformed broker url")
	}
}
