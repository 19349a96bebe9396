package domain

import (
	"reflect"
	"testing"
)

func TestNormalizeReservationItems(t *testing.T) {
	cases := []struct {
		name  string
		items []ReservationItem
		want  []ReservationItem
	}{
		{
			name:  "empty input",
			items: nil,
			want:  nil,
		},
		{
			name: "trims and drops non-positive",
			items: []ReservationItem{
				{SKU: "  SKU-A ", Qty: 2},
				{SKU: "SKU-B", Qty: 0},
				{SKU: "SKU-C", Qty: -1},
				{SKU: "   ", Qty: 5},
			},
			want: []ReservationItem{{SKU: "SKU-A", Qty: 2}},
		},
		{
			name: "merges duplicates preserving first position",
			items: []ReservationItem{
				{SKU: "SKU-A", Qty: 1},
				{SKU: "SKU-B", Qty: 2},
				{SKU: "SKU-A", Qty: 3},
			},
			want: []ReservationItem{
				{SKU: "SKU-A", Qty: 4},
				{SKU: "SKU-B", Qty: 2},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeReservationItems(tc.items)
			if len(got) == 0 && len(tc.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestBalanceAvailable(t *testing.T) {
	b := Balance{SKU: "SKU-A", OnHand: 10, Reserved: 3}
	if b.Available() != 7 {
		t.Fatalf("available = %d, want 7", b.Available())
	}
}
