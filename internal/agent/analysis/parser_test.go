package analysis

import (
	"testing"

	"github.com/feichai0017/receipt-analyzer/internal/apperr"
	"github.com/feichai0017/receipt-analyzer/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validReply = `{
  "merchantName": "Corner Cafe",
  "items": [
    {"name": "Flat white", "quantity": 2, "unitPrice": 3.5, "totalPrice": 7},
    {"name": "Croissant", "quantity": 1, "unitPrice": 2.25, "totalPrice": 2.25}
  ],
  "totalAmount": 9.25,
  "currency": "EUR",
  "categories": ["food"]
}`

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	p, err := NewParser(logger.NewNop())
	require.NoError(t, err)
	return p
}

func requireInvalidResponse(t *testing.T, err error) *apperr.Error {
	t.Helper()
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeInvalidResponse, e.Code)
	return e
}

func TestParse_Valid(t *testing.T) {
	p := newTestParser(t)

	for name, text := range map[string]string{
		"plain":         validReply,
		"fenced":        "```json\n" + validReply + "\n```",
		"bare fence":    "```\n" + validReply + "```",
		"with prose":    "Here is the result:\n" + validReply + "\nLet me know!",
		"quantity zero": `{"merchantName":"A","items":[{"name":"x","quantity":0,"unitPrice":0,"totalPrice":0}],"totalAmount":0,"currency":"USD"}`,
	} {
		t.Run(name, func(t *testing.T) {
			result, err := p.Parse(text)
			require.NoError(t, err)
			require.NotEmpty(t, result.Items)
		})
	}

	result, err := p.Parse(validReply)
	require.NoError(t, err)
	assert.Equal(t, "Corner Cafe", result.MerchantName)
	assert.Equal(t, "Flat white", result.Items[0].Name)
	assert.Equal(t, 9.25, result.TotalAmount)
	assert.Equal(t, []string{"food"}, result.Categories)
}

func TestParse_Empty(t *testing.T) {
	p := newTestParser(t)
	for _, text := range []string{"", "   \n\t"} {
		e := requireInvalidResponse(t, mustFail(p.Parse(text)))
		assert.Equal(t, msgEmptyResponse, e.Message)
	}
}

func TestParse_Unparsable(t *testing.T) {
	p := newTestParser(t)
	for name, text := range map[string]string{
		"prose":        "I cannot read this receipt.",
		"null":         "null",
		"array":        `[{"name":"x"}]`,
		"truncated":    `{"merchantName": "A", "items": [`,
		"wrong type":   `{"merchantName":"A","items":[{"name":"x","quantity":1,"unitPrice":1,"totalPrice":1}],"totalAmount":"12.00","currency":"USD"}`,
		"item not obj": `{"merchantName":"A","items":["x"],"totalAmount":1,"currency":"USD"}`,
		"object":       `{}`,
		"no items key": `{"merchantName":"A","totalAmount":1,"currency":"USD"}`,
		"no total":     `{"merchantName":"Shop","items":[{"name":"Milk","quantity":1,"unitPrice":1,"totalPrice":1}],"currency":"USD"}`,
		"no currency":  `{"merchantName":"Shop","items":[{"name":"Milk","quantity":1,"unitPrice":1,"totalPrice":1}],"totalAmount":1}`,
		"bare item":    `{"merchantName":"Shop","items":[{"name":"Milk"}],"totalAmount":1,"currency":"USD"}`,
		"no price":     `{"merchantName":"Shop","items":[{"name":"Milk","quantity":1,"totalPrice":1}],"totalAmount":1,"currency":"USD"}`,
	} {
		t.Run(name, func(t *testing.T) {
			e := requireInvalidResponse(t, mustFail(p.Parse(text)))
			assert.Equal(t, msgUnparsable, e.Message)
		})
	}
}

func TestParse_NoLineItems(t *testing.T) {
	p := newTestParser(t)
	for name, text := range map[string]string{
		"empty": `{"merchantName":"A","items":[],"totalAmount":1,"currency":"USD"}`,
		"null":  `{"merchantName":"A","items":null,"totalAmount":1,"currency":"USD"}`,
	} {
		t.Run(name, func(t *testing.T) {
			e := requireInvalidResponse(t, mustFail(p.Parse(text)))
			assert.Equal(t, msgNoLineItems, e.Message)
		})
	}
}

func TestParse_CollectsViolations(t *testing.T) {
	p := newTestParser(t)
	text := `{"merchantName":"A","items":[{"name":"  ","quantity":1,"unitPrice":1,"totalPrice":1}],"totalAmount":-1,"currency":"USD"}`

	e := requireInvalidResponse(t, mustFail(p.Parse(text)))
	assert.Equal(t, msgInvalidFields+"items[0].name, totalAmount", e.Message)
}

func TestParse_AllFieldViolations(t *testing.T) {
	p := newTestParser(t)
	text := `{"merchantName":"","items":[{"name":"ok","quantity":-2,"unitPrice":-1,"totalPrice":1}],"totalAmount":1,"currency":" ","categories":[""]}`

	e := requireInvalidResponse(t, mustFail(p.Parse(text)))
	assert.Equal(t, msgInvalidFields+"merchantName, items[0].quantity, items[0].unitPrice, currency, categories[0]", e.Message)
}

func TestBuildUserPrompt_EmbedsSchema(t *testing.T) {
	p := newTestParser(t)
	prompt := BuildUserPrompt(p.SchemaJSON())
	assert.Contains(t, prompt, `"merchantName"`)
	assert.Contains(t, prompt, `"totalPrice"`)
	assert.Contains(t, prompt, "at least one item")
}

func mustFail(_ interface{}, err error) error {
	return err
}
