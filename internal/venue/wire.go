package venue

import (
	"encoding/json"
	"strconv"

	"predict-agent/internal/money"
)

// This file holds the venue's bit-exact wire shapes (§6). They are kept
// separate from the internal domain model (internal/domain) because the
// wire shapes are an external contract the venue owns, while the domain
// model is this codebase's own vocabulary; Client methods translate between
// the two.

// priceField is the venue's {value,currency} wrapper used for monetary
// fields in both book and order payloads.
type priceField struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// bookLevel is one resting quantity at a price in a book response.
type bookLevel struct {
	Px  priceField `json:"px"`
	Qty string     `json:"qty"`
}

// bookMarketData is the inner payload of GET /v1/markets/{slug}/book.
type bookMarketData struct {
	MarketSlug string      `json:"marketSlug"`
	Bids       []bookLevel `json:"bids"`
	Offers     []bookLevel `json:"offers"`
}

// BookResponse wraps bookMarketData exactly as the venue nests it.
type BookResponse struct {
	MarketData bookMarketData `json:"marketData"`
}

// BBOResponse is the top-of-book shortcut endpoint.
type BBOResponse struct {
	MarketSlug string      `json:"marketSlug"`
	BestBid    *priceField `json:"bestBid"`
	BestAsk    *priceField `json:"bestAsk"`
}

// MarketResponse is one entry from the market index or the by-slug lookup.
type MarketResponse struct {
	Slug          string `json:"slug"`
	Title         string `json:"title"`
	Status        string `json:"status"`
	Closed        bool   `json:"closed"`
	Category      string `json:"category"`
	League        string `json:"league"`
	EndDate       string `json:"endDate"`
	YesTokenID    string `json:"yesTokenId"`
	NoTokenID     string `json:"noTokenId"`
	Liquidity     string `json:"liquidity"`
	Volume24h     string `json:"volume24h"`
}

// marketsListResponse is the paginated market-index envelope.
type marketsListResponse struct {
	Markets []MarketResponse `json:"markets"`
	Total   int              `json:"total"`
}

// balanceEntry is one currency's balance. Balances may arrive either as a
// bare object or wrapped in a list — callers use parseBalance to normalize.
type balanceEntry struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// positionEntry is one position row. The venue may wrap the actual fields in
// a nested "position" object; parsePositionEntry unwraps this tolerantly.
type positionEntry struct {
	MarketSlug string          `json:"marketSlug"`
	Side       string          `json:"side"`
	Quantity   string          `json:"quantity"`
	AvgPrice   string          `json:"avgPrice"`
	Position   json.RawMessage `json:"position"`
}

// OrderRequest is the camelCase order-placement body (§6).
type OrderRequest struct {
	MarketSlug           string      `json:"marketSlug"`
	Type                 string      `json:"type"` // "limit" | "market"
	Price                *priceField `json:"price,omitempty"`
	Quantity             string      `json:"quantity"`
	TIF                  string      `json:"tif"`    // "GTC" | "IOC" | "FOK"
	Intent               string      `json:"intent"` // "BuyLong" | "SellLong" | "BuyShort" | "SellShort"
	ManualOrderIndicator bool        `json:"manualOrderIndicator"`
}

// OrderResponse is the venue's response to order placement/preview/lookup.
type OrderResponse struct {
	OrderID        string `json:"orderId"`
	MarketSlug     string `json:"marketSlug"`
	Status         string `json:"status"`
	FilledQuantity string `json:"filledQuantity"`
	Price          string `json:"price"`
	Quantity       string `json:"quantity"`
	Intent         string `json:"intent"`
}

// NewOrderRequest builds an OrderRequest, since priceField is package-private
// and callers outside venue (the live executor) have no other way to
// populate a priced order. price is nil for a market order.
func NewOrderRequest(slug, orderType string, price *money.Money, quantity int64, tif, intent string) OrderRequest {
	req := OrderRequest{
		MarketSlug: slug,
		Type:       orderType,
		Quantity:   strconv.FormatInt(quantity, 10),
		TIF:        tif,
		Intent:     intent,
	}
	if price != nil {
		req.Price = &priceField{Value: price.String(), Currency: "USD"}
	}
	return req
}

// cancelRequest scopes a cancel-all to one market when marketSlug is set.
type cancelRequest struct {
	MarketSlug string `json:"marketSlug,omitempty"`
}

// CancelResponse lists the order IDs affected by a cancel call.
type CancelResponse struct {
	Cancelled []string `json:"cancelled"`
}

// errorBody is the venue's {error:{code,message}} shape.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
