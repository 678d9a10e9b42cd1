package dashboard

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatAmount renders an amount in New Taiwan dollars, e.g. "NT$ 151,500".
func FormatAmount(amount int64) string {
	return message.NewPrinter(language.English).Sprintf("NT$ %d", amount)
}
