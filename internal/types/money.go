// README: Common money value object used across modules.
package types

// DefaultCurrency is the currency every fare in the system is quoted in.
const DefaultCurrency = "INR"

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func NewMoney(amount int64) Money {
	return Money{Amount: amount, Currency: DefaultCurrency}
}
