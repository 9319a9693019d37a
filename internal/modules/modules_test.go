package modules

import "testing"

func TestParseCanonicalAndAliases(t *testing.T) {
	cases := map[string]ID{
		"metube":  MeTube,
		"METUBE":  MeTube,
		" pdf ":   PDF,
		"1":       PDF,
		"xhisper": Whisper,
		"qr":      QRCode,
		"immo":    RealEstate,
	}
	for raw, want := range cases {
		got, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("Parse(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	for _, raw := range []string{"", "metube2", "crypto", "42"} {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("Parse(%q) succeeded, want error", raw)
		}
	}
}

func TestRegistryOverrides(t *testing.T) {
	reg, err := NewRegistry(map[string]string{"pdf": "http://10.0.0.5:9090/"})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	u, ok := reg.BaseURL(PDF)
	if !ok || u != "http://10.0.0.5:9090" {
		t.Fatalf("unexpected pdf base url %q (ok=%v)", u, ok)
	}
	if _, ok := reg.BaseURL(MeTube); !ok {
		t.Fatalf("default metube url missing")
	}
}

func TestRegistryRejectsBadOverride(t *testing.T) {
	if _, err := NewRegistry(map[string]string{"nonsense": "http://x"}); err == nil {
		t.Fatalf("expected error for unknown module override")
	}
	if _, err := NewRegistry(map[string]string{"pdf": "not a url"}); err == nil {
		t.Fatalf("expected error for invalid url override")
	}
}
