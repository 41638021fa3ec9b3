package handlers

import (
	"errors"

	"staking/internal/money"
)

var errInvalidAmount = errors.New("invalid amount")

func parseAmountUnits(raw string) (int64, error) {
	amount, err := money.ParseUnits(raw)
	if err != nil || amount <= 0 {
		return 0, errInvalidAmount
	}
	return amount, nil
}
