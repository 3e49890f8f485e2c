package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// bookTTL expires mirrored books of tokens that stopped updating, which
// happens to every market once its window closes.
const bookTTL = 30 * time.Minute

// OrderbookCache implements domain.OrderbookCache with one sorted set per
// book side and a metadata hash, keyed by CLOB token id.
//
// Key schema:
//
//	book:{token}:bids - sorted set, score = price, member = "price|size"
//	book:{token}:asks - sorted set, score = price, member = "price|size"
//	book:{token}:meta - hash with market_id, side, ts (unix nanos)
type OrderbookCache struct {
	rdb *redis.Client
}

// NewOrderbookCache creates an OrderbookCache backed by the given Client.
func NewOrderbookCache(c *Client) *OrderbookCache {
	return &OrderbookCache{rdb: c.Underlying()}
}

func bookBidsKey(token string) string { return "book:" + token + ":bids" }
func bookAsksKey(token string) string { return "book:" + token + ":asks" }
func bookMetaKey(token string) string { return "book:" + token + ":meta" }

// SetBook atomically replaces the mirrored book for book.TokenID.
func (oc *OrderbookCache) SetBook(ctx context.Context, book domain.OrderbookState) error {
	if book.TokenID == "" {
		return fmt.Errorf("redis: set book %s: empty token id", book.MarketID)
	}
	bidsKey := bookBidsKey(book.TokenID)
	asksKey := bookAsksKey(book.TokenID)
	metaKey := bookMetaKey(book.TokenID)

	pipe := oc.rdb.TxPipeline()
	pipe.Del(ctx, bidsKey, asksKey, metaKey)
	if len(book.Bids) > 0 {
		pipe.ZAdd(ctx, bidsKey, levelMembers(book.Bids)...)
		pipe.Expire(ctx, bidsKey, bookTTL)
	}
	if len(book.Asks) > 0 {
		pipe.ZAdd(ctx, asksKey, levelMembers(book.Asks)...)
		pipe.Expire(ctx, asksKey, bookTTL)
	}
	pipe.HSet(ctx, metaKey,
		"market_id", book.MarketID,
		"side", string(book.Side),
		"ts", strconv.FormatInt(book.LastUpdate.UnixNano(), 10),
	)
	pipe.Expire(ctx, metaKey, bookTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", book.TokenID, err)
	}
	return nil
}

// GetBook reads a mirrored book. It returns domain.ErrNotFound when the
// token has no mirrored state.
func (oc *OrderbookCache) GetBook(ctx context.Context, tokenID string) (domain.OrderbookState, error) {
	pipe := oc.rdb.Pipeline()
	bidsCmd := pipe.ZRevRangeWithScores(ctx, bookBidsKey(tokenID), 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, bookAsksKey(tokenID), 0, -1)
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(tokenID))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.OrderbookState{}, fmt.Errorf("redis: get book %s: %w", tokenID, err)
	}

	meta, _ := metaCmd.Result()
	if len(meta) == 0 {
		return domain.OrderbookState{}, domain.ErrNotFound
	}

	book := domain.OrderbookState{
		MarketID: meta["market_id"],
		Side:     domain.Side(meta["side"]),
		TokenID:  tokenID,
	}
	if ns, err := strconv.ParseInt(meta["ts"], 10, 64); err == nil {
		book.LastUpdate = time.Unix(0, ns).UTC()
	}

	bids, _ := bidsCmd.Result()
	book.Bids = parseMembers(bids)
	asks, _ := asksCmd.Result()
	book.Asks = parseMembers(asks)
	return book, nil
}

func levelMembers(levels []domain.PriceLevel) []redis.Z {
	out := make([]redis.Z, 0, len(levels))
	for _, lvl := range levels {
		out = append(out, redis.Z{
			Score:  lvl.Price,
			Member: formatFloat(lvl.Price) + "|" + formatFloat(lvl.Size),
		})
	}
	return out
}

func parseMembers(zs []redis.Z) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		_, sizeStr, found := strings.Cut(member, "|")
		if !found {
			continue
		}
		size, err := strconv.ParseFloat(sizeStr, 64)
		if err != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: z.Score, Size: size})
	}
	return out
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

var _ domain.OrderbookCache = (*OrderbookCache)(nil)
