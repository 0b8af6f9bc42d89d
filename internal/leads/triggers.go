package leads

import "strings"

var purchaseMarkers = []string{
	"хочу купить",
	"хочу заказать",
	"готов заказать",
	"готов купить",
	"беру",
	"оформляйте",
	"как оплатить",
}

var priceMarkers = []string{
	"сколько стоит",
	"какая цена",
	"сколько будет стоить",
	"стоимость",
	"цена",
	"бюджет",
	"тариф",
	"прайс",
}

var productMarkers = []string{
	"чат-бот",
	"чат бот",
	"бот",
	"автопостинг",
	"автоответчик",
	"парсинг",
	"интеграция",
	"автоматизация",
}

// HasPurchaseIntent reports whether the text sounds like the client
// is ready to buy.
func HasPurchaseIntent(text string) bool {
	return containsAny(strings.ToLower(text), purchaseMarkers...)
}

// HasPriceQuestion reports whether the text asks about pricing.
func HasPriceQuestion(text string) bool {
	return containsAny(strings.ToLower(text), priceMarkers...)
}

// DetectProduct returns the first known product mentioned in the text,
// or an empty string. Longer markers are listed first so "чат-бот"
// wins over the bare "бот".
func DetectProduct(text string) string {
	lower := strings.ToLower(text)
	for _, p := range productMarkers {
		if strings.Contains(lower, p) {
			return p
		}
	}
	return ""
}
