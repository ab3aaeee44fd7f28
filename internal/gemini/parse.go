package gemini

import (
	"encoding/json"
	"errors"
	"math"
	"path"
	"regexp"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/receipt-flow/internal/domain"
)

// ErrInvalidJSON is returned when the model reply is not a JSON object.
var ErrInvalidJSON = errors.New("invalid JSON response from Gemini")

var (
	fileNameDate = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)
	leadingInt   = regexp.MustCompile(`^[+-]?\d+`)
)

// cleanModelJSON strips Markdown code fences the model sometimes adds.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.TrimSpace(s)

	// Keep only the outermost object if there is chatter around it.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}

func parseReceiptJSON(raw string) (map[string]interface{}, error) {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &parsed); err != nil {
		return nil, ErrInvalidJSON
	}
	if parsed == nil {
		return nil, ErrInvalidJSON
	}
	return parsed, nil
}

// validateAndNormalize keeps only well-typed fields and applies defaults.
// A missing or unreadable date falls back to a YYYY-MM-DD in the file name.
func validateAndNormalize(data map[string]interface{}, fileName string) domain.ExtractedReceipt {
	receipt := domain.ExtractedReceipt{
		Items:                []string{},
		SuggestedCategory:    domain.DefaultCategory,
		SuggestedAccountCode: domain.DefaultAccountCode,
		Confidence:           domain.DefaultConfidence,
	}

	if s, ok := data["date"].(string); ok {
		if d, err := civil.ParseDate(strings.TrimSpace(s)); err == nil {
			receipt.Date = &d
		}
	}
	if receipt.Date == nil {
		receipt.Date = dateFromFileName(fileName)
	}

	if n, ok := data["amount"].(float64); ok {
		amount := int64(math.Round(n))
		receipt.Amount = &amount
	}
	if s, ok := data["storeName"].(string); ok {
		receipt.StoreName = &s
	}
	if items, ok := data["items"].([]interface{}); ok {
		for _, item := range items {
			receipt.Items = append(receipt.Items, stringify(item))
		}
	}
	if s, ok := data["paymentMethod"].(string); ok {
		receipt.PaymentMethod = &s
	}
	if s, ok := data["suggestedCategory"].(string); ok {
		receipt.SuggestedCategory = s
	}
	if s, ok := data["suggestedAccountCode"].(string); ok {
		receipt.SuggestedAccountCode = s
	}
	if n, ok := data["confidence"].(float64); ok {
		receipt.Confidence = n
	}

	return receipt
}

func dateFromFileName(fileName string) *civil.Date {
	m := fileNameDate.FindString(fileName)
	if m == "" {
		return nil
	}
	d, err := civil.ParseDate(m)
	if err != nil {
		return nil
	}
	return &d
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// parseSelectedID reads the leading integer of the reply. Anything else yields 0.
func parseSelectedID(text string) int64 {
	m := leadingInt.FindString(strings.TrimSpace(text))
	if m == "" {
		return 0
	}
	id, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// mimeTypeFor guesses the image type from the file extension, defaulting to JPEG.
func mimeTypeFor(fileName string) string {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(fileName), ".")) {
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "heic":
		return "image/heic"
	default:
		return "image/jpeg"
	}
}
