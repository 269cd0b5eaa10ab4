package analysis

import (
	"strings"
)

const systemPrompt = "You are a receipt analysis assistant. Read the attached receipt image and extract " +
	"the merchant, every purchased line item, the total amount and the currency. " +
	"Return ONLY a single JSON object, with no commentary and no markdown."

// BuildUserPrompt embeds the machine-readable format instructions for the result shape.
func BuildUserPrompt(schemaJSON string) string {
	parts := []string{
		"Extract the receipt into JSON matching this JSON Schema:",
		schemaJSON,
		"Rules:",
		"- merchantName: the store or business name, never empty.",
		"- items: one entry per purchased line, in the order printed; at least one item is required.",
		"- each item has a non-empty name and non-negative quantity, unitPrice and totalPrice numbers.",
		"- totalAmount: the grand total paid, a non-negative number.",
		"- currency: a 3-letter ISO 4217 code such as USD or EUR.",
		"- categories: optional short tags describing the purchase, e.g. groceries or travel.",
		"- Use plain numbers without currency symbols or thousands separators.",
	}
	return strings.Join(parts, "\n")
}
