package service

import (
	"testing"
	"time"

	"payment-gateway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailablePaymentMethods(t *testing.T) {
	methods := AvailablePaymentMethods(nil)
	require.Len(t, methods, 3, "disabled methods are filtered out")

	assert.Equal(t, models.ProviderCard, methods[0].ID)
	assert.Equal(t, models.ProviderPayPal, methods[1].ID)
	assert.Equal(t, models.ProviderBankRedirect, methods[2].ID)

	for _, m := range methods {
		assert.True(t, m.Enabled)
		assert.NotEmpty(t, m.Currencies)
		assert.NotEmpty(t, m.RequiredFields)
		assert.NotEmpty(t, m.ProcessingTime)
	}
}

func TestAvailablePaymentMethodsFiltersUnregistered(t *testing.T) {
	onlyCard := func(p models.PaymentProvider) bool { return p == models.ProviderCard }

	methods := AvailablePaymentMethods(onlyCard)
	require.Len(t, methods, 1)
	assert.Equal(t, models.ProviderCard, methods[0].ID)
}

func validCard() *CardDetails {
	return &CardDetails{
		CardNumber:  "4242424242424242",
		ExpiryMonth: 12,
		ExpiryYear:  time.Now().Year() + 2,
		CVV:         "123",
	}
}

func TestValidatePaymentMethodAcceptsValidVisa(t *testing.T) {
	result := ValidatePaymentMethod(validCard())
	assert.True(t, result.Valid)
	assert.Equal(t, "visa", result.CardType)
	assert.Equal(t, "4242", result.Last4)
	assert.Empty(t, result.Errors)
}

func TestValidatePaymentMethodLuhnFailure(t *testing.T) {
	card := validCard()
	card.CardNumber = "4242424242424241"

	result := ValidatePaymentMethod(card)
	assert.False(t, result.Valid)
	assert.Equal(t, "card number failed checksum validation", result.Errors["cardNumber"])
	assert.Empty(t, result.Last4, "an invalid number is never echoed, not even its last four")
}

func TestValidatePaymentMethodAcceptsSpacedNumber(t *testing.T) {
	card := validCard()
	card.CardNumber = "4242 4242 4242 4242"
	assert.True(t, ValidatePaymentMethod(card).Valid)

	card.CardNumber = "4242-4242-4242-4242"
	assert.True(t, ValidatePaymentMethod(card).Valid)
}

func TestDetectCardType(t *testing.T) {
	tests := []struct {
		number string
		want   string
	}{
		{"4242424242424242", "visa"},
		{"5555555555554444", "mastercard"},
		{"2221000000000009", "mastercard"},
		{"2720990000000007", "mastercard"},
		{"378282246310005", "amex"},
		{"348282246310005", "amex"},
		{"6011111111111117", "discover"},
		{"6221261111111118", "discover"},
		{"6451111111111117", "discover"},
		{"6511111111111119", "discover"},
		{"36700102000000", "diners"},
		{"38520000023237", "diners"},
		{"3530111333300000", "jcb"},
		{"9999999999999995", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, detectCardType(tt.number), "number %s", tt.number)
	}
}

func TestValidatePaymentMethodExpiry(t *testing.T) {
	now := time.Now()

	card := validCard()
	card.ExpiryMonth = 13
	assert.Equal(t, "expiry month must be between 1 and 12", ValidatePaymentMethod(card).Errors["expiry"])

	card = validCard()
	card.ExpiryMonth = int(now.Month())
	card.ExpiryYear = now.Year() - 1
	assert.Equal(t, "card has expired", ValidatePaymentMethod(card).Errors["expiry"])

	// Cards stay valid through the end of the current month.
	card = validCard()
	card.ExpiryMonth = int(now.Month())
	card.ExpiryYear = now.Year()
	assert.NotContains(t, ValidatePaymentMethod(card).Errors, "expiry")

	card = validCard()
	card.ExpiryYear = now.Year() + 25
	assert.Equal(t, "expiry year too far in the future", ValidatePaymentMethod(card).Errors["expiry"])

	// Two-digit years are accepted.
	card = validCard()
	card.ExpiryYear = (now.Year() + 2) % 100
	assert.True(t, ValidatePaymentMethod(card).Valid)
}

func TestValidatePaymentMethodCVVLength(t *testing.T) {
	card := validCard()
	card.CVV = "12"
	assert.Equal(t, "security code must be 3 digits", ValidatePaymentMethod(card).Errors["cvv"])

	card = validCard()
	card.CVV = "12a"
	assert.False(t, ValidatePaymentMethod(card).Valid)

	// Amex requires four digits.
	amex := &CardDetails{
		CardNumber:  "378282246310005",
		ExpiryMonth: 12,
		ExpiryYear:  time.Now().Year() + 2,
		CVV:         "123",
	}
	assert.Equal(t, "security code must be 4 digits", ValidatePaymentMethod(amex).Errors["cvv"])

	amex.CVV = "1234"
	assert.True(t, ValidatePaymentMethod(amex).Valid)
}

func TestValidatePaymentMethodLength(t *testing.T) {
	card := validCard()
	card.CardNumber = "42424242"
	result := ValidatePaymentMethod(card)
	assert.False(t, result.Valid)
	assert.Equal(t, "card number must be 13 to 19 digits", result.Errors["cardNumber"])
}
