package agentloop

import (
	"testing"
)

func TestRollingHashKnownValues(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: "0"},
		{in: "a", want: "2p"},
		{in: "ab", want: "2e9"},
	}
	for _, tt := range tests {
		if got := (RollingHash{}).Fingerprint(tt.in); got != tt.want {
			t.Errorf("Fingerprint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFingerprintersAreDeterministic(t *testing.T) {
	content := "function hello() {\n  return 'héllo 🌍';\n}\n"
	for _, f := range []Fingerprinter{RollingHash{}, Blake3Hash{}} {
		a, b := f.Fingerprint(content), f.Fingerprint(content)
		if a != b {
			t.Errorf("%T not deterministic: %s vs %s", f, a, b)
		}
		if a == f.Fingerprint(content+" ") {
			t.Errorf("%T ignored a content change", f)
		}
	}
	if got := len((Blake3Hash{}).Fingerprint("x")); got != 64 {
		t.Errorf("blake3 fingerprint should be 64 hex chars, got %d", got)
	}
}

func TestRollingHashInvalidUTF8(t *testing.T) {
	a := (RollingHash{}).Fingerprint("a\xffb")
	b := (RollingHash{}).Fingerprint("a\xfeb")
	if a == b {
		t.Errorf("bytes that are not UTF-8 must still be distinguished, both gave %s", a)
	}
}

func TestFingerprinterByName(t *testing.T) {
	tests := []struct {
		name    string
		want    Fingerprinter
		wantErr bool
	}{
		{name: "", want: RollingHash{}},
		{name: "rolling", want: RollingHash{}},
		{name: " BLAKE3 ", want: Blake3Hash{}},
		{name: "md5", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FingerprinterByName(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %T, want %T", got, tt.want)
			}
		})
	}
}
