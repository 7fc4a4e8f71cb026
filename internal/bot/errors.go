package bot

import "errors"

var (
	ErrWeightsExceedOne      = errors.New("bot: enabled signal weights sum to more than 1.0")
	ErrStopLossNotPositive   = errors.New("bot: stop_loss_pct must be positive")
	ErrTakeProfitNotPositive = errors.New("bot: take_profit_pct must be positive")
	ErrThresholdsInverted    = errors.New("bot: buy_threshold must be <= 0 and sell_threshold >= 0")
	ErrNotFound              = errors.New("bot: not found")
)
