package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID           string   `json:"id"`
	Question     string   `json:"question"`
	ConditionID  string   `json:"conditionId"`
	Slug         string   `json:"slug"`
	Active       flexBool `json:"active"`
	Closed       flexBool `json:"closed"`
	EndDate      string   `json:"endDate"`
	Outcomes     string   `json:"outcomes"`     // JSON-encoded: "[\"Up\",\"Down\"]"
	ClobTokenIDs string   `json:"clobTokenIds"` // JSON-encoded: "[\"123\",\"456\"]"
}

// tokenIDs decodes the JSON-encoded clobTokenIds field.
func (m *APIMarket) tokenIDs() []string {
	return decodeStringList(m.ClobTokenIDs)
}

// ToDomainMarket converts a Gamma market into a domain.Market for the given
// asset. ok is false when the market is not tradable: inactive, closed,
// missing its two outcome tokens, or carrying an unparseable end date.
func (m *APIMarket) ToDomainMarket(asset string) (domain.Market, bool) {
	if !bool(m.Active) || bool(m.Closed) {
		return domain.Market{}, false
	}
	tokens := m.tokenIDs()
	if len(tokens) < 2 || tokens[0] == "" || tokens[1] == "" {
		return domain.Market{}, false
	}
	end, err := time.Parse(time.RFC3339, m.EndDate)
	if err != nil {
		return domain.Market{}, false
	}

	id := m.ConditionID
	if id == "" {
		id = m.ID
	}

	// Outcome order follows the API; make sure UP is first.
	outcomes := decodeStringList(m.Outcomes)
	up, down := tokens[0], tokens[1]
	if len(outcomes) >= 2 && strings.EqualFold(outcomes[0], "down") {
		up, down = down, up
	}

	return domain.Market{
		ID:       id,
		Asset:    strings.ToUpper(asset),
		Question: m.Question,
		Slug:     m.Slug,
		TokenIDs: [2]string{up, down},
		EndTime:  end.UTC(),
	}, true
}

func decodeStringList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// SubscribeMessage is sent once per connection with every known token and
// again, incrementally, for tokens added mid-connection.
type SubscribeMessage struct {
	AssetsIDs []string `json:"assets_ids"`
	Type      string   `json:"type"`
}

// WSPriceLevel is a single bid/ask level in the WebSocket orderbook data.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// WSPriceChange is one entry of a price_changes frame.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
}

// wsFrame is the union of the inbound object shapes on the market channel.
// Bids/Asks are pointers so a frame carrying an empty book side can be told
// apart from a frame without book fields.
type wsFrame struct {
	EventType    string          `json:"event_type"`
	AssetID      string          `json:"asset_id"`
	Market       string          `json:"market"`
	Bids         *[]WSPriceLevel `json:"bids"`
	Asks         *[]WSPriceLevel `json:"asks"`
	Buys         *[]WSPriceLevel `json:"buys"`
	Sells        *[]WSPriceLevel `json:"sells"`
	PriceChanges []WSPriceChange `json:"price_changes"`
	Timestamp    string          `json:"timestamp"`
}

// isBook reports whether the frame carries a full book replacement.
func (f *wsFrame) isBook() bool {
	return f.Bids != nil || f.Asks != nil || f.Buys != nil || f.Sells != nil
}

// bookSides returns the bid and ask level lists, accepting the older
// buys/sells field names.
func (f *wsFrame) bookSides() (bids, asks []WSPriceLevel) {
	switch {
	case f.Bids != nil:
		bids = *f.Bids
	case f.Buys != nil:
		bids = *f.Buys
	}
	switch {
	case f.Asks != nil:
		asks = *f.Asks
	case f.Sells != nil:
		asks = *f.Sells
	}
	return bids, asks
}

// parseLevels converts wire levels to domain levels, skipping entries whose
// price or size does not parse.
func parseLevels(levels []WSPriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		p, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		s, err := strconv.ParseFloat(lvl.Size, 64)
		if err != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}
