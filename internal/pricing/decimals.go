package pricing

import (
	"github.com/shopspring/decimal"
)

// DisplayDecimals - число знаков после запятой, заданное шагом цены.
//
// Примеры: 0.01 -> 2, 0.5 -> 1, 1 -> 0, 0.0025 -> 4.
// Нулевой или отрицательный шаг -> 2 (значение по умолчанию для отображения).
func DisplayDecimals(priceStep float64) int32 {
	if priceStep <= 0 {
		return 2
	}
	exp := decimal.NewFromFloat(priceStep).Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}

// RoundToStep округляет цену к ближайшему кратному шага
func RoundToStep(price, priceStep float64) float64 {
	if priceStep <= 0 {
		return price
	}
	step := decimal.NewFromFloat(priceStep)
	rounded := decimal.NewFromFloat(price).DivRound(step, 16).Round(0).Mul(step)
	f, _ := rounded.Float64()
	return f
}

// FormatPrice форматирует цену с точностью шага инструмента
func FormatPrice(price, priceStep float64) string {
	return decimal.NewFromFloat(price).StringFixed(DisplayDecimals(priceStep))
}
