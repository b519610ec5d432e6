package memory

import "testing"

func TestNormalizeTopic(t *testing.T) {
	cases := []struct {
		a, b string
	}{
		{"pizza preferences", "preference for pizza"},
		{"Coffee", "coffee"},
		{"work schedule", "Work Schedules"},
		{"hobbies", "hobby"},
	}
	for _, c := range cases {
		if NormalizeTopic(c.a) != NormalizeTopic(c.b) {
			t.Errorf("NormalizeTopic(%q)=%q, NormalizeTopic(%q)=%q; want equal",
				c.a, NormalizeTopic(c.a), c.b, NormalizeTopic(c.b))
		}
	}
}

func TestNormalizeTopicStopwordsOnly(t *testing.T) {
	if got := NormalizeTopic("The"); got != "the" {
		t.Errorf("all-stopword topic should fall back to lowercase, got %q", got)
	}
}

func TestTopicSimilarity(t *testing.T) {
	cases := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"coffee", "Coffee", 1.0, 1.0},
		{"pizza preferences", "preference for pizza", 1.0, 1.0},
		{"coffee preferences", "coffee", 0.4, 0.6},
		{"coffee", "astrophysics", 0.0, 0.0},
	}
	for _, c := range cases {
		got := TopicSimilarity(c.a, c.b)
		if got < c.min || got > c.max {
			t.Errorf("TopicSimilarity(%q, %q) = %v, want in [%v, %v]", c.a, c.b, got, c.min, c.max)
		}
	}
}

func TestHintSimilarity(t *testing.T) {
	cases := []struct {
		hint, topic string
		min, max    float64
	}{
		{"coffee", "coffee", 1.0, 1.0},
		// Hints from conversation text carry extra words; the topic still
		// counts as fully covered.
		{"chatting coffee recommendations", "coffee", 1.0, 1.0},
		{"coffee", "coffee preferences oat", 0.3, 0.4},
		{"coffee", "astrophysics", 0.0, 0.0},
		{"anything", "", 0.0, 0.0},
	}
	for _, c := range cases {
		got := HintSimilarity(c.hint, c.topic)
		if got < c.min || got > c.max {
			t.Errorf("HintSimilarity(%q, %q) = %v, want in [%v, %v]", c.hint, c.topic, got, c.min, c.max)
		}
	}
}

func TestSingularize(t *testing.T) {
	cases := map[string]string{
		"hobbies": "hobby",
		"cats":    "cat",
		"glass":   "glass",
		"status":  "status",
		"bus":     "bus",
	}
	for in, want := range cases {
		if got := singularize(in); got != want {
			t.Errorf("singularize(%q) = %q, want %q", in, got, want)
		}
	}
}
