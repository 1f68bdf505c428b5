package lock

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// RandomizeKeypad returns the digits 0-9 in a uniformly random order
func RandomizeKeypad() ([]string, error) {
	digits := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}
	for i := len(digits) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, fmt.Errorf("failed to shuffle keypad: %w", err)
		}
		j := int(n.Int64())
		digits[i], digits[j] = digits[j], digits[i]
	}
	return digits, nil
}
