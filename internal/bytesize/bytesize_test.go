package bytesize

import (
	"testing"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ByteSize
		wantErr bool
	}{
		{"plain zero", "0", 0, false},
		{"plain number", "1024", 1024, false},
		{"byte suffix", "512B", 512, false},
		{"byte suffix lowercase", "512b", 512, false},

		{"binary kilo", "64Ki", 64 * KiB, false},
		{"binary kilo long", "64KiB", 64 * KiB, false},
		{"binary mega", "100Mi", 100 * MiB, false},
		{"binary giga", "1Gi", GiB, false},
		{"binary tera", "2TiB", 2 * TiB, false},

		{"decimal kilo", "1K", KB, false},
		{"decimal mega", "100MB", 100 * MB, false},
		{"decimal giga", "1GB", GB, false},
		{"decimal tera", "1T", TB, false},

		{"lowercase unit", "1gi", GiB, false},
		{"uppercase unit", "1GI", GiB, false},
		{"surrounding whitespace", "  1Gi  ", GiB, false},
		{"space before unit", "1 Gi", GiB, false},

		{"fractional binary", "1.5Mi", ByteSize(1.5 * float64(MiB)), false},
		{"fractional giga", "0.5Gi", ByteSize(0.5 * float64(GiB)), false},

		{"empty", "", 0, true},
		{"whitespace only", "   ", 0, true},
		{"unknown unit", "1Xi", 0, true},
		{"negative", "-1Gi", 0, true},
		{"unit without number", "Gi", 0, true},
		{"garbage", "abc", 0, true},
		{"double dot", "1.2.3Mi", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseByteSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseByteSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestByteSize_UnmarshalText(t *testing.T) {
	var b ByteSize
	if err := b.UnmarshalText([]byte("64Ki")); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if b != 64*KiB {
		t.Errorf("Expected 64Ki, got %d", b)
	}

	if err := b.UnmarshalText([]byte("nonsense")); err == nil {
		t.Error("Expected error for invalid input")
	}
}

func TestByteSize_String(t *testing.T) {
	tests := []struct {
		in   ByteSize
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{KiB, "1.00KiB"},
		{64 * KiB, "64.00KiB"},
		{MiB + MiB/2, "1.50MiB"},
		{GiB, "1.00GiB"},
		{3 * TiB, "3.00TiB"},
	}

	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("ByteSize(%d).String() = %q, want %q", uint64(tt.in), got, tt.want)
		}
	}
}

func TestByteSize_Conversions(t *testing.T) {
	b := ByteSize(1234)
	if b.Uint64() != 1234 {
		t.Errorf("Uint64() = %d", b.Uint64())
	}
	if b.Int64() != 1234 {
		t.Errorf("Int64() = %d", b.Int64())
	}
}
