// Package funds provides deposit custody: the treasury moves amounts
// between callers, the escrow pool, and operator revenue, and records
// every movement as a hash-chained receipt.
package funds

import "strconv"

// Amount is a monetary value in minor units of the service's single
// deposit denomination. Integer math avoids floating point errors.
type Amount int64

func (a Amount) IsZero() bool     { return a == 0 }
func (a Amount) IsPositive() bool { return a > 0 }
func (a Amount) IsNegative() bool { return a < 0 }

func (a Amount) String() string {
	return strconv.FormatInt(int64(a), 10)
}
