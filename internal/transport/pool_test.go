package transport

import "testing"

func TestPoolSizeFor(t *testing.T) {
	cases := []struct {
		devices int
		want    int
	}{
		{1, 10},
		{51, 10},
		{200, 10},
		{400, 20},
		{500, 25},
		{2000, 50},
	}
	for _, c := range cases {
		if got := PoolSizeFor(c.devices); got != c.want {
			t.Errorf("PoolSizeFor(%d) = %d, want %d", c.devices, got, c.want)
		}
	}
}
