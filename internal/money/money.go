// Package money is the storefront's decimal currency type.
//
// Amounts are stored in DynamoDB as Number attributes holding the exact
// decimal text and are rendered in JSON as fixed two-place strings.
// Rounding to cents is banker's rounding (half to even).
package money

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits kept for currency values.
const Places = 2

// Amount is an exact currency value.
type Amount struct {
	d decimal.Decimal
}

// Zero is the zero amount.
var Zero = Amount{}

// Cent is the smallest representable price.
var Cent = Amount{d: decimal.New(1, -Places)}

// Parse reads a decimal string such as "12.50".
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Amount{d: d}, nil
}

// MustParse is Parse for literals; it panics on malformed input.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromDecimal wraps d.
func FromDecimal(d decimal.Decimal) Amount { return Amount{d: d} }

// Decimal exposes the underlying value.
func (a Amount) Decimal() decimal.Decimal { return a.d }

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }

// Times multiplies by a quantity.
func (a Amount) Times(qty int) Amount { return Amount{d: a.d.Mul(decimal.NewFromInt(int64(qty)))} }

// Scale multiplies by factor and rounds to cents.
func (a Amount) Scale(factor decimal.Decimal) Amount {
	return Amount{d: a.d.Mul(factor).RoundBank(Places)}
}

// Round rounds to cents, half to even.
func (a Amount) Round() Amount { return Amount{d: a.d.RoundBank(Places)} }

func (a Amount) Cmp(b Amount) int          { return a.d.Cmp(b.d) }
func (a Amount) Equal(b Amount) bool       { return a.d.Equal(b.d) }
func (a Amount) LessThan(b Amount) bool    { return a.d.LessThan(b.d) }
func (a Amount) GreaterThan(b Amount) bool { return a.d.GreaterThan(b.d) }
func (a Amount) IsPositive() bool          { return a.d.IsPositive() }
func (a Amount) IsNegative() bool          { return a.d.IsNegative() }

// Max returns the larger of a and b.
func Max(a, b Amount) Amount {
	if a.LessThan(b) {
		return b
	}
	return a
}

// String renders the amount with two fractional digits.
func (a Amount) String() string { return a.d.StringFixedBank(Places) }

// AttributeValue returns the DynamoDB Number form for use in expressions.
func (a Amount) AttributeValue() types.AttributeValue {
	return &types.AttributeValueMemberN{Value: a.d.String()}
}

// MarshalDynamoDBAttributeValue implements attributevalue.Marshaler.
func (a Amount) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return a.AttributeValue(), nil
}

// UnmarshalDynamoDBAttributeValue implements attributevalue.Unmarshaler.
func (a *Amount) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberNULL:
		*a = Zero
		return nil
	default:
		return fmt.Errorf("unmarshal amount: unexpected attribute %T", av)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("unmarshal amount: %w", err)
	}
	a.d = d
	return nil
}

// MarshalJSON renders a quoted fixed-point string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts quoted strings and bare numbers.
func (a *Amount) UnmarshalJSON(b []byte) error {
	return a.d.UnmarshalJSON(b)
}
