package money

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestScale_BankersRounding(t *testing.T) {
	markup := decimal.RequireFromString("1.10")

	cases := []struct {
		price string
		want  string
	}{
		{"10.00", "11.00"},
		{"0.15", "0.16"},  // 0.165 rounds to even
		{"0.25", "0.28"},  // 0.275 rounds to even
		{"9.99", "10.99"}, // 10.989
		{"12.00", "13.20"},
	}
	for _, tc := range cases {
		got := MustParse(tc.price).Scale(markup)
		require.Equal(t, tc.want, got.String(), "price %s", tc.price)
	}
}

func TestArithmetic(t *testing.T) {
	total := MustParse("19.99").Times(3).Add(MustParse("0.03"))
	require.Equal(t, "60.00", total.String())
	require.True(t, total.Equal(MustParse("60")))
	require.True(t, MustParse("100.00").LessThan(MustParse("100.01")))
	require.True(t, MustParse("0").Sub(Cent).IsNegative())
	require.Equal(t, Cent, Max(Cent, MustParse("-1")))
}

type row struct {
	Price Amount `dynamodbav:"price"`
}

func TestDynamoRoundTrip(t *testing.T) {
	item, err := attributevalue.MarshalMap(row{Price: MustParse("11.05")})
	require.NoError(t, err)
	require.Equal(t, &types.AttributeValueMemberN{Value: "11.05"}, item["price"])

	var out row
	require.NoError(t, attributevalue.UnmarshalMap(item, &out))
	require.True(t, out.Price.Equal(MustParse("11.05")))
}

func TestJSON(t *testing.T) {
	b, err := json.Marshal(map[string]Amount{"total": MustParse("5")})
	require.NoError(t, err)
	require.JSONEq(t, `{"total":"5.00"}`, string(b))

	var in struct {
		Amount Amount `json:"amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"amount": 25.5}`), &in))
	require.Equal(t, "25.50", in.Amount.String())
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("twelve")
	require.Error(t, err)
}
