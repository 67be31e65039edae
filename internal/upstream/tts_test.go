package upstream

import "testing"

func TestResolveVoice_Precedence(t *testing.T) {
	c := NewTTSClient("http://tts.local", "en_US-lessac-medium", map[string]string{"fast": "en_US-lessac-low"}, 2)

	if v, _ := c.resolveVoice(""); v != "en_US-lessac-medium" {
		t.Fatalf("expected configured default, got %q", v)
	}
	if v, _ := c.resolveVoice("fast"); v != "en_US-lessac-low" {
		t.Fatalf("expected alias resolution, got %q", v)
	}
	if v, _ := c.resolveVoice("unknown_alias"); v != "en_US-lessac-medium" {
		t.Fatalf("expected fallback to default for unknown alias, got %q", v)
	}
}

func TestResolveVoice_HardCodedDefaultWhenUnconfigured(t *testing.T) {
	c := NewTTSClient("http://tts.local", "", nil, 2)
	if v, _ := c.resolveVoice(""); v != "en_US-lessac-low" {
		t.Fatalf("expected hard-coded default, got %q", v)
	}
}
