package symbols

import "strings"

// Variants returns the spellings a perpetual contract for token/quote may
// carry on different exchanges, most common first:
//
//	BTCUSDT        Bybit, Binance, Bitget, BitMart
//	BTC_USDT       Gate, MEXC
//	BTC-USDT       BingX
//	BTCUSDTM       KuCoin
//	BTC-USDT-SWAP  OKX
//
// The order is fixed so that lookups are reproducible. Input is trimmed
// first, so a blank or whitespace-only token counts as empty and yields nil.
func Variants(token, quote string) []string {
	token = strings.ToUpper(strings.TrimSpace(token))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if token == "" {
		return nil
	}
	if quote == "" {
		return []string{token}
	}
	return []string{
		token + quote,
		token + "_" + quote,
		token + "-" + quote,
		token + quote + "M",
		token + "-" + quote + "-SWAP",
	}
}

// Instrument strips exchange decorations and the quote currency from a
// contract symbol, leaving the base token. BTCUSDT, BTC_USDT, BTC-USDT-SWAP,
// BTCUSDTM and BTCPERP all map to BTC.
func Instrument(symbol, quote string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	quote = strings.ToUpper(strings.TrimSpace(quote))

	s = strings.TrimSuffix(s, "-SWAP")
	s = strings.TrimSuffix(s, "PERP")
	if quote != "" {
		if strings.HasSuffix(s, quote+"M") && len(s) > len(quote)+1 {
			s = strings.TrimSuffix(s, "M")
		}
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			s = strings.TrimSuffix(s, quote)
		}
	}
	s = strings.TrimRight(s, "_-")
	if s == "" {
		return strings.ToUpper(strings.TrimSpace(symbol))
	}
	return s
}
