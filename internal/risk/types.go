package risk

// Config holds the defaults applied to sessions created without explicit limits.
type Config struct {
	DefaultMaxPositionSize float64 `json:"default_max_position_size"`
	DefaultMaxDailyLoss    float64 `json:"default_max_daily_loss"`
	MinOrderUnits          float64 `json:"min_order_units"`
}

// MinOrderUnits is the smallest order the engine sends; smaller deltas are noise.
const MinOrderUnits = 1

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		DefaultMaxPositionSize: 10000,
		DefaultMaxDailyLoss:    1000,
		MinOrderUnits:          MinOrderUnits,
	}
}

// DailyMetrics are one session's realized results for a UTC day.
type DailyMetrics struct {
	Date             string  `json:"date"`
	Trades           int     `json:"trades"`
	Wins             int     `json:"wins"`
	PnL              float64 `json:"pnl"`
	Losses           float64 `json:"losses"`
	TotalRealizedPnL float64 `json:"total_realized_pnl"`
	MaxProfit        float64 `json:"max_profit"`
	MaxDrawdown      float64 `json:"max_drawdown"`
}

// Decision is the outcome of sizing a target position into an order.
type Decision struct {
	TargetUnits float64 `json:"target_units"`
	PrevUnits   float64 `json:"prev_units"`
	Delta       float64 `json:"delta"`
	Skip        bool    `json:"skip"`
}
