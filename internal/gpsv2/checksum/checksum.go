package checksum

import "fmt"

// Sum adds the bytes of s modulo 256 and formats the result as two upper case hex digits.
func Sum(s string) string {
	var sum byte
	for i := 0; i < len(s); i++ {
		sum += s[i]
	}
	return fmt.Sprintf("%02X", sum)
}
