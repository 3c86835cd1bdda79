package notify

import (
	"fmt"
	"strings"

	"github.com/coachpo/stockwatch/internal/catalog"
)

// Fixed announcement texts.
const (
	ResetText = "🌅 <b>Good Morning!</b>\nStarting daily stock check... You will receive alerts for ALL in-stock items now."
	StopText  = "🛑 Monitor Stopped"
)

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// EscapeHTML escapes the characters Telegram's HTML parse mode treats as markup.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// StartText is the start announcement for one destination.
func StartText(destination string) string {
	return fmt.Sprintf("🚀 Monitor Started - %s Channel", destination)
}

// FormatRestock renders the in-stock alert for p.
func FormatRestock(p catalog.Product, details string) Message {
	text := fmt.Sprintf(
		"🎉 <b>IN STOCK</b>\n\n"+
			"📦 <b>%s</b>\n"+
			"💰 MRP: %s\n"+
			"📏 Sizes: %s\n"+
			"🔗 <a href='%s'>%s</a>",
		EscapeHTML(p.Name), EscapeHTML(p.Price), EscapeHTML(details), p.URL, p.URL,
	)
	return Message{Text: text, ImageURL: p.ImageURL}
}
