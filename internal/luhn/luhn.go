package luhn

// Valid reports whether number passes the Luhn checksum. Spaces and dashes
// are ignored; any other non-digit character fails.
func Valid(number string) bool {
	digits, ok := digitsOf(number)
	if !ok || len(digits) == 0 {
		return false
	}
	return checksum(digits)%10 == 0
}

// CardNumber reports whether number looks like a payment card number: 13 to
// 19 digits, optionally grouped with spaces or dashes, with a valid checksum.
func CardNumber(number string) bool {
	digits, ok := digitsOf(number)
	if !ok || len(digits) < 13 || len(digits) > 19 {
		return false
	}
	return checksum(digits)%10 == 0
}

func digitsOf(s string) ([]byte, bool) {
	digits := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits = append(digits, c-'0')
		case c == ' ' || c == '-':
		default:
			return nil, false
		}
	}
	return digits, true
}

func checksum(digits []byte) int {
	sum := 0
	alternate := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i])
		if alternate {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alternate = !alternate
	}
	return sum
}
