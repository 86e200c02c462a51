package shortcode

import (
	"fmt"
	"strings"
)

const base62Chars = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// EncodeBase62 converts a non-negative number to Base62 encoding
func EncodeBase62(num int64) string {
	if num <= 0 {
		return string(base62Chars[0])
	}

	var buf [11]byte
	i := len(buf)
	base := int64(len(base62Chars))

	for num > 0 {
		i--
		buf[i] = base62Chars[num%base]
		num /= base
	}

	return string(buf[i:])
}

// DecodeBase62 converts a Base62 string back to a number
func DecodeBase62(encoded string) (int64, error) {
	if encoded == "" {
		return 0, fmt.Errorf("empty base62 string")
	}

	var num int64
	base := int64(len(base62Chars))

	for i := 0; i < len(encoded); i++ {
		value := strings.IndexByte(base62Chars, encoded[i])
		if value < 0 {
			return 0, fmt.Errorf("invalid base62 character %q", encoded[i])
		}
		num = num*base + int64(value)
	}

	return num, nil
}
