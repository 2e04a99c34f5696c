package horosafe

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestSafePath(t *testing.T) {
	// WHAT: Member paths stay under the extraction directory.
	// WHY: Archive entries like "../../etc/cron.d/x" are attacker-controlled.
	base := filepath.Join(t.TempDir(), "extract_1")
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"abc/def.txt", false},
		{"/abs/inside.txt", false},
		{"notes..v2.txt", false},
		{"dir/./file.txt", false},
		{"../etc/passwd", true},
		{"abc/../def", true},
		{`abc\..\..\outside`, true},
		{"abc/../../outside", true},
		{"", true},
		{"/", true},
	}
	for _, tt := range tests {
		got, err := SafePath(base, tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("SafePath(%q) error=%v, wantErr=%v", tt.input, err, tt.wantErr)
			continue
		}
		if err != nil {
			if !errors.Is(err, ErrPathTraversal) {
				t.Errorf("SafePath(%q) err = %v, want ErrPathTraversal", tt.input, err)
			}
			continue
		}
		if !strings.HasPrefix(got, base+string(filepath.Separator)) {
			t.Errorf("SafePath(%q) = %q escapes base", tt.input, got)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data := strings.Repeat("x", 100)
	tests := []struct {
		name    string
		max     int64
		wantErr error
	}{
		{"under", 200, nil},
		{"exact", 100, nil},
		{"over", 50, ErrTooLarge},
		{"zero", 0, ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LimitedReadAll(strings.NewReader(data), tt.max)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && len(got) != 100 {
				t.Errorf("read %d bytes", len(got))
			}
		})
	}
}
