package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/model"
	"github.com/openstable/cdpcore/internal/pkg/logger"
)

const (
	reconnBaseDelay = 1 * time.Second
	reconnMaxDelay  = 30 * time.Second
	pingPeriod      = 15 * time.Second
	priceKeyPrefix  = "cdpcore:price:"
)

// PriceTick is one oracle update on the feed.
type PriceTick struct {
	Asset string `json:"asset"`
	Price string `json:"price"`
	Ts    int64  `json:"ts"`
}

type pricePoint struct {
	price decimal.Decimal
	seen  time.Time
}

// PriceFeed subscribes to the oracle websocket and keeps the latest price per
// asset, mirrored into redis so restarting nodes warm up instantly. A price
// older than staleAfter is treated as missing: the engine prefers refusing to
// act over acting on a dead feed.
type PriceFeed struct {
	url        string
	staleAfter time.Duration
	rdb        *redis.Client

	mu          sync.RWMutex
	conn        *websocket.Conn
	isConnected bool
	subs        []string
	prices      map[model.AssetID]pricePoint

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPriceFeed builds a feed for the given assets. rdb may be nil; the feed
// then runs memory-only.
func NewPriceFeed(url string, assets []string, staleAfter time.Duration, rdb *redis.Client) *PriceFeed {
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PriceFeed{
		url:        url,
		staleAfter: staleAfter,
		rdb:        rdb,
		subs:       append([]string(nil), assets...),
		prices:     make(map[model.AssetID]pricePoint),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the connection loop in a background goroutine.
func (f *PriceFeed) Start() {
	if f.url == "" {
		logger.Warn("price feed url not configured, serving cached prices only")
		return
	}
	go f.runLoop()
}

func (f *PriceFeed) Stop() {
	f.cancel()
	f.mu.Lock()
	if f.conn != nil {
		f.conn.Close()
	}
	f.mu.Unlock()
}

// GetPrice implements the engine's PriceSource. It consults the local map
// first and falls back to redis for prices another node observed.
func (f *PriceFeed) GetPrice(asset model.AssetID) (decimal.Decimal, bool) {
	f.mu.RLock()
	point, ok := f.prices[asset]
	f.mu.RUnlock()
	if ok && time.Since(point.seen) < f.staleAfter {
		return point.price, true
	}
	if f.rdb == nil {
		return decimal.Zero, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	raw, err := f.rdb.Get(ctx, priceKeyPrefix+string(asset)).Result()
	if err != nil {
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(raw)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, false
	}
	return price, true
}

// SetPrice injects a price directly, bypassing the feed. Used at boot for
// fixed-price assets and by tests.
func (f *PriceFeed) SetPrice(asset model.AssetID, price decimal.Decimal) {
	f.store(asset, price, time.Now())
}

func (f *PriceFeed) store(asset model.AssetID, price decimal.Decimal, seen time.Time) {
	f.mu.Lock()
	f.prices[asset] = pricePoint{price: price, seen: seen}
	f.mu.Unlock()
	if f.rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		if err := f.rdb.Set(ctx, priceKeyPrefix+string(asset), price.String(), f.staleAfter).Err(); err != nil {
			logger.Warn("failed to mirror price to redis", "asset", string(asset), "error", err)
		}
	}
}

func (f *PriceFeed) runLoop() {
	delay := reconnBaseDelay

	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		if err := f.connect(); err != nil {
			logger.Error("price feed connection failed", "error", err, "retry_in", delay)
			time.Sleep(delay)
			delay *= 2
			if delay > reconnMaxDelay {
				delay = reconnMaxDelay
			}
			continue
		}

		delay = reconnBaseDelay
		f.mu.Lock()
		f.isConnected = true
		f.mu.Unlock()

		if err := f.sendSubscribe(); err != nil {
			logger.Error("failed to subscribe to price feed", "error", err)
			f.conn.Close()
			continue
		}

		f.readLoop()

		f.mu.Lock()
		f.isConnected = false
		f.mu.Unlock()
	}
}

func (f *PriceFeed) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		return err
	}
	f.conn = conn

	readTimeout := pingPeriod + 10*time.Second
	f.conn.SetReadDeadline(time.Now().Add(readTimeout))
	f.conn.SetPongHandler(func(string) error {
		f.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-f.ctx.Done():
				return
			case <-ticker.C:
				f.mu.Lock()
				if !f.isConnected || f.conn == nil {
					f.mu.Unlock()
					return
				}
				err := f.conn.WriteMessage(websocket.PingMessage, []byte{})
				f.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	return nil
}

func (f *PriceFeed) readLoop() {
	defer f.conn.Close()

	readTimeout := pingPeriod + 10*time.Second
	for {
		f.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := f.conn.ReadMessage()
		if err != nil {
			logger.Error("price feed read error", "error", err)
			return
		}

		var ticks []PriceTick
		if err := json.Unmarshal(message, &ticks); err != nil {
			var single PriceTick
			if err2 := json.Unmarshal(message, &single); err2 == nil {
				ticks = []PriceTick{single}
			} else {
				continue
			}
		}

		for _, tick := range ticks {
			if tick.Asset == "" {
				continue
			}
			price, err := decimal.NewFromString(tick.Price)
			if err != nil || !price.IsPositive() {
				continue
			}
			seen := time.Now()
			if tick.Ts > 0 {
				seen = time.Unix(tick.Ts, 0)
			}
			f.store(model.AssetID(tick.Asset), price, seen)
		}
	}
}

func (f *PriceFeed) sendSubscribe() error {
	msg := map[string]interface{}{
		"type":   "subscribe",
		"assets": f.subs,
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("no connection")
	}
	return f.conn.WriteJSON(msg)
}
