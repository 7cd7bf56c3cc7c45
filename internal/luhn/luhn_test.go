package luhn

import "testing"

func TestValid(t *testing.T) {
	tests := []struct {
		name   string
		number string
		want   bool
	}{
		{"valid", "49927398716", true},
		{"one digit off", "49927398717", false},
		{"another valid", "79927398713", true},
		{"visa", "4111111111111111", true},
		{"grouped with spaces", "4111 1111 1111 1111", true},
		{"grouped with dashes", "4111-1111-1111-1112", false},
		{"letters", "4111a11111111111", false},
		{"empty", "", false},
		{"separators only", " - ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Valid(tt.number); got != tt.want {
				t.Errorf("Valid(%q) = %v, want %v", tt.number, got, tt.want)
			}
		})
	}
}

func TestCardNumber(t *testing.T) {
	tests := []struct {
		number string
		want   bool
	}{
		{"4111111111111111", true},
		{"378282246310005", true},
		{"5500-0000-0000-0004", true},
		{"49927398716", false}, // valid checksum, too short
		{"1234567890123456", false},
		{"41111111111111111111", false},
	}
	for _, tt := range tests {
		if got := CardNumber(tt.number); got != tt.want {
			t.Errorf("CardNumber(%q) = %v, want %v", tt.number, got, tt.want)
		}
	}
}
