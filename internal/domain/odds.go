package domain

import "math"

// AmericanToProb devuelve la probabilidad implícita de un precio americano.
//
//	price > 0: 100 / (price + 100)
//	price < 0: -price / (-price + 100)
//
// El resultado siempre está en (0,1). Un precio 0 no existe y devuelve DomainError.
func AmericanToProb(price int) (float64, error) {
	if price == 0 {
		return 0, &DomainError{Op: "AmericanToProb", Value: 0, Reason: "price cannot be 0"}
	}
	if price > 0 {
		return 100.0 / (float64(price) + 100.0), nil
	}
	neg := -float64(price)
	return neg / (neg + 100.0), nil
}

// ProbToAmerican convierte una probabilidad al precio americano justo.
//
// Política estricta: p fuera de (0,1) o NaN devuelve DomainError, nunca se
// recorta en silencio. El redondeo es math.Round (mitad lejos de cero).
//
//	p >= 0.5: -round(100p / (1-p))   favorito, precio negativo
//	p <  0.5: +round(100(1-p) / p)   underdog, precio positivo
//
// p = 0.5 devuelve -100 (equivalente a +100).
func ProbToAmerican(p float64) (int, error) {
	if math.IsNaN(p) || p <= 0 || p >= 1 {
		return 0, &DomainError{Op: "ProbToAmerican", Value: p, Reason: "p must be in (0,1)"}
	}
	if p >= 0.5 {
		return -int(math.Round(100 * p / (1 - p))), nil
	}
	return int(math.Round(100 * (1 - p) / p)), nil
}

// Payout devuelve la ganancia por unidad apostada (multiplicador de beneficio).
// -110 → 0.909, +130 → 1.30. Precio 0 devuelve 0.
func Payout(price int) float64 {
	switch {
	case price < 0:
		return 100.0 / float64(-price)
	case price > 0:
		return float64(price) / 100.0
	default:
		return 0
	}
}

// DecimalOdds devuelve la cuota decimal (stake incluido).
func DecimalOdds(price int) float64 {
	return 1 + Payout(price)
}

// ExpectedValuePct calcula el EV% de una apuesta: (p·payout − (1−p))·100.
func ExpectedValuePct(modelProb float64, price int) float64 {
	return (modelProb*Payout(price) - (1 - modelProb)) * 100
}

// Clamp limita v al intervalo [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
