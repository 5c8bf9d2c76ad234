package gas

import (
	"math/big"
	"testing"
)

func TestStandardCosts(t *testing.T) {
	m := Default()

	tests := []struct {
		name string
		got  *big.Int
		want int64
	}{
		{"base", m.CPUBaseTransactionCost(), 10},
		{"storage", m.StorageCostOf(250), 250},
		{"install cpu", m.CPUCostForInstallingJar(4000), 20},
		{"install ram", m.RAMCostForInstallingJar(4000), 100},
		{"load cpu", m.CPUCostForLoadingJar(4000), 5},
		{"load ram", m.RAMCostForLoadingJar(4000), 100},
	}

	for _, tt := range tests {
		if tt.got.Int64() != tt.want {
			t.Errorf("%s = %s, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func TestNonPositiveDivisors(t *testing.T) {
	p := DefaultParams()
	p.LoadDivisor = 0
	p.RAMDivisor = -3

	m := NewStandard(p)

	if got := m.CPUCostForLoadingJar(7).Int64(); got != 8 {
		t.Errorf("CPUCostForLoadingJar = %d, want 8", got)
	}
	if got := m.RAMCostForLoadingJar(7).Int64(); got != 7 {
		t.Errorf("RAMCostForLoadingJar = %d, want 7", got)
	}
}

func TestCost(t *testing.T) {
	if got := Cost(big.NewInt(1000), big.NewInt(3)); got.Int64() != 3000 {
		t.Errorf("Cost = %s", got)
	}
	if got := Cost(nil, big.NewInt(3)); got.Sign() != 0 {
		t.Errorf("Cost(nil) = %s", got)
	}
}
