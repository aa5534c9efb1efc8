package model

// RateLimitConfig bounds how fast one account may hit the API.
type RateLimitConfig struct {
	QPS   float64 `json:"qps"`
	Burst int     `json:"burst"`
}

// Account is an API caller that owns positions. The ID doubles as the
// position owner key in the persisted state layout.
type Account struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	ApiKey string          `json:"api_key"`
	Rate   RateLimitConfig `json:"rate_limit"`
}
