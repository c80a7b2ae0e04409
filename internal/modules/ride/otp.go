// README: Four-digit ride OTP generation and format check.
package ride

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const otpDigits = 4

type OTPGenerator interface {
	NewOTP() (string, error)
}

// RandomOTP draws a uniformly random 4-digit code from crypto/rand.
type RandomOTP struct{}

func (RandomOTP) NewOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

func validOTP(v string) bool {
	if len(v) != otpDigits {
		return false
	}
	for _, c := range v {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
