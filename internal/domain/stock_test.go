package domain

import "testing"

func TestClassifyStock(t *testing.T) {
	cases := []struct {
		stock int
		want  StockStatus
	}{
		{0, StockOutOfStock},
		{1, StockLow},
		{10, StockLow},
		{11, StockAdequate},
		{250, StockAdequate},
	}
	for _, tc := range cases {
		if got := ClassifyStock(tc.stock); got != tc.want {
			t.Fatalf("ClassifyStock(%d) = %s, want %s", tc.stock, got, tc.want)
		}
	}
}

func TestIsSupportedPaymentMethod(t *testing.T) {
	for _, method := range []string{"cash", "pix", "card"} {
		if !IsSupportedPaymentMethod(method) {
			t.Fatalf("expected %s to be supported", method)
		}
	}
	if IsSupportedPaymentMethod("split") {
		t.Fatalf("expected split to be rejected")
	}
}
