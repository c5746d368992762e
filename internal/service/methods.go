package service

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"payment-gateway/internal/models"
)

// PaymentMethod is one catalog entry for client display, including the
// hints a checkout form needs to validate input before submitting.
type PaymentMethod struct {
	ID             models.PaymentProvider `json:"id"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description"`
	Priority       int                    `json:"priority"`
	Enabled        bool                   `json:"-"`
	Currencies     []string               `json:"currencies"`
	RequiredFields []string               `json:"requiredFields"`
	CodeLength     int                    `json:"verificationCodeLength,omitempty"`
	ProcessingTime string                 `json:"estimatedProcessingTime"`
}

// paymentMethodCatalog is the static method registry. Disabled entries are
// kept here so re-enabling a method is a one-field change.
var paymentMethodCatalog = []PaymentMethod{
	{
		ID:             models.ProviderCard,
		Name:           "Credit / Debit Card",
		Description:    "Pay directly with a credit or debit card",
		Priority:       1,
		Enabled:        true,
		Currencies:     []string{"USD", "EUR", "CLP", "MXN"},
		RequiredFields: []string{"cardNumber", "expiryMonth", "expiryYear", "cvv"},
		CodeLength:     3,
		ProcessingTime: "instant",
	},
	{
		ID:             models.ProviderPayPal,
		Name:           "PayPal",
		Description:    "Pay with your PayPal account",
		Priority:       2,
		Enabled:        true,
		Currencies:     []string{"USD", "EUR", "MXN"},
		RequiredFields: []string{"returnUrl", "cancelUrl"},
		ProcessingTime: "instant",
	},
	{
		ID:             models.ProviderBankRedirect,
		Name:           "Bank Transfer",
		Description:    "Pay through your bank's payment portal",
		Priority:       3,
		Enabled:        true,
		Currencies:     []string{"CLP", "USD"},
		RequiredFields: []string{"returnUrl"},
		ProcessingTime: "1-2 minutes",
	},
	{
		ID:             "wallet",
		Name:           "Digital Wallet",
		Description:    "Pay with a stored wallet balance",
		Priority:       4,
		Enabled:        false,
		Currencies:     []string{"USD"},
		RequiredFields: []string{"walletId"},
		ProcessingTime: "instant",
	},
}

// AvailablePaymentMethods returns the enabled catalog entries whose
// provider passes the registered predicate, sorted by priority. A nil
// predicate skips the registration filter.
func AvailablePaymentMethods(registered func(models.PaymentProvider) bool) []PaymentMethod {
	methods := make([]PaymentMethod, 0, len(paymentMethodCatalog))
	for _, m := range paymentMethodCatalog {
		if !m.Enabled {
			continue
		}
		if registered != nil && !registered(m.ID) {
			continue
		}
		methods = append(methods, m)
	}
	sort.Slice(methods, func(i, j int) bool {
		return methods[i].Priority < methods[j].Priority
	})
	return methods
}

// AvailablePaymentMethods lists the methods whose processor is actually
// registered with this service.
func (s *PaymentService) AvailablePaymentMethods() []PaymentMethod {
	return AvailablePaymentMethods(s.registry.Has)
}

// CardDetails is the input to card validation. The card number may contain
// spaces or dashes.
type CardDetails struct {
	CardNumber  string `json:"cardNumber"`
	ExpiryMonth int    `json:"expiryMonth"`
	ExpiryYear  int    `json:"expiryYear"`
	CVV         string `json:"cvv"`
}

// CardValidation is the outcome of validating card details. Only the last
// four digits of the card number are echoed back, never the full number or
// the security code.
type CardValidation struct {
	Valid    bool              `json:"valid"`
	CardType string            `json:"cardType,omitempty"`
	Last4    string            `json:"last4,omitempty"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// ValidatePaymentMethod checks card details without contacting any
// provider: Luhn checksum, brand detection, expiry window and security
// code length. Errors are keyed by the offending field.
func ValidatePaymentMethod(details *CardDetails) *CardValidation {
	out := &CardValidation{Errors: make(map[string]string)}
	number := normalizeCardNumber(details.CardNumber)

	if len(number) < 13 || len(number) > 19 {
		out.Errors["cardNumber"] = "card number must be 13 to 19 digits"
	} else if !luhnValid(number) {
		out.Errors["cardNumber"] = "card number failed checksum validation"
	} else {
		out.Last4 = number[len(number)-4:]
	}

	cardType := detectCardType(number)
	if cardType == "" && len(number) >= 13 {
		out.Errors["cardType"] = "unrecognized card type"
	}
	out.CardType = cardType

	if err := validateExpiry(details.ExpiryMonth, details.ExpiryYear); err != nil {
		out.Errors["expiry"] = err.Error()
	}

	wantCVV := 3
	if cardType == "amex" {
		wantCVV = 4
	}
	if len(details.CVV) != wantCVV || !digitsOnly(details.CVV) {
		out.Errors["cvv"] = fmt.Sprintf("security code must be %d digits", wantCVV)
	}

	out.Valid = len(out.Errors) == 0
	if out.Valid {
		out.Errors = nil
	}
	return out
}

func normalizeCardNumber(number string) string {
	number = strings.ReplaceAll(number, " ", "")
	number = strings.ReplaceAll(number, "-", "")
	if !digitsOnly(number) {
		return ""
	}
	return number
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// luhnValid implements the Luhn checksum over a digit string.
func luhnValid(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// detectCardType identifies the card brand by its issuer prefix. Returns an
// empty string for unknown prefixes.
func detectCardType(number string) string {
	if number == "" {
		return ""
	}
	switch {
	case strings.HasPrefix(number, "4"):
		return "visa"
	case inPrefixRange(number, 2, 51, 55), inPrefixRange(number, 4, 2221, 2720):
		return "mastercard"
	case strings.HasPrefix(number, "34"), strings.HasPrefix(number, "37"):
		return "amex"
	case strings.HasPrefix(number, "6011"),
		inPrefixRange(number, 6, 622126, 622925),
		inPrefixRange(number, 3, 644, 649),
		strings.HasPrefix(number, "65"):
		return "discover"
	case strings.HasPrefix(number, "36"), strings.HasPrefix(number, "38"):
		return "diners"
	case strings.HasPrefix(number, "35"):
		return "jcb"
	}
	return ""
}

// inPrefixRange reports whether the number's first width digits fall in
// [lo, hi].
func inPrefixRange(number string, width, lo, hi int) bool {
	if len(number) < width {
		return false
	}
	prefix, err := strconv.Atoi(number[:width])
	if err != nil {
		return false
	}
	return prefix >= lo && prefix <= hi
}

// validateExpiry accepts expiry dates from the current month up to twenty
// years out.
func validateExpiry(month, year int) error {
	if month < 1 || month > 12 {
		return fmt.Errorf("expiry month must be between 1 and 12")
	}
	now := time.Now()
	if year < 100 {
		year += 2000
	}
	// End of the expiry month.
	expires := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	if !expires.After(now) {
		return fmt.Errorf("card has expired")
	}
	if year > now.Year()+20 {
		return fmt.Errorf("expiry year too far in the future")
	}
	return nil
}
