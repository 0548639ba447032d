package broker

import (
	"context"
	"fmt"

	"pairarb/pkg/ratelimit"
)

// Throttled ограничивает частоту заявок по торговому счёту.
// Заявка ждёт токен своего счёта; если контекст истёк раньше, заявка
// отклоняется без отправки во внутреннюю торговую систему.
type Throttled struct {
	Broker
	limits *ratelimit.KeyedLimiter
}

// NewThrottled оборачивает b; rate - заявок в секунду на счёт, burst - допустимый всплеск
func NewThrottled(b Broker, rate, burst float64) *Throttled {
	return &Throttled{Broker: b, limits: ratelimit.NewKeyedLimiter(rate, burst)}
}

// PlaceOrder ждёт токен счёта и передаёт заявку дальше
func (t *Throttled) PlaceOrder(ctx context.Context, order Order) (Result, error) {
	if err := t.limits.Wait(ctx, order.Account); err != nil {
		if order.TransID == 0 {
			order.TransID = t.NextTransID()
		}
		return Result{
			TransID:   order.TransID,
			Result:    ResultRejected,
			Message:   fmt.Sprintf("order rate limit exceeded for account %q", order.Account),
			ClassCode: order.ClassCode,
			SecCode:   order.SecCode,
			Operation: order.Operation,
			Quantity:  order.Quantity,
			Price:     order.Price,
		}, nil
	}
	return t.Broker.PlaceOrder(ctx, order)
}
