/*
balance.go - The balance mutator

PURPOSE:
  The only code that changes Source.Balance on behalf of a transaction.
  It mutates the in-memory Source; persisting it is the caller's job and
  must happen in the same WithTx unit that writes the transaction row.

RULES:
  ApplyDelta:    Adds a signed amount. A negative (expense-direction)
                 application that would leave the balance below zero fails
                 with InsufficientFundsError and leaves the source untouched.
  ReverseEffect: Removes a transaction's effect. Never checks funds:
                 it restores a state that was valid before the transaction
                 was applied, even if that means going negative.

EXAMPLE:
  Source "Cash" balance 700, expense 800:
    ApplyDelta(cash, -800) -> InsufficientFundsError{Balance: 700, Requested: 800}
    cash.Balance is still 700.
*/
package ledger

import "github.com/shopspring/decimal"

// ApplyDelta adds signed to src.Balance, enforcing non-negative balance
// for expense-direction changes.
func ApplyDelta(src *Source, signed decimal.Decimal) error {
	next := src.Balance.Add(signed)
	if signed.IsNegative() && next.IsNegative() {
		return &InsufficientFundsError{
			SourceID:   src.ID,
			SourceName: src.Name,
			Balance:    src.Balance,
			Requested:  signed.Neg(),
		}
	}
	src.Balance = next
	return nil
}

// ApplyEffect applies tx's signed amount to src.
func ApplyEffect(src *Source, tx Transaction) error {
	return ApplyDelta(src, tx.Signed())
}

// ReverseEffect removes tx's signed amount from src without a funds check.
func ReverseEffect(src *Source, tx Transaction) {
	src.Balance = src.Balance.Sub(tx.Signed())
}
