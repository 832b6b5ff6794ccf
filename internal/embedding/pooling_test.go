package embedding

import (
	"reflect"
	"testing"
)

func TestMeanPool(t *testing.T) {
	hidden := []float32{
		1, 2,
		3, 4,
		100, 100, // padding
	}
	got := meanPool(hidden, []int64{1, 1, 0}, 2)
	if !reflect.DeepEqual(got, []float32{2, 3}) {
		t.Errorf("meanPool = %v, want [2 3]", got)
	}
	if got := meanPool(hidden, []int64{0, 0, 0}, 2); !reflect.DeepEqual(got, []float32{0, 0}) {
		t.Errorf("meanPool with empty mask = %v", got)
	}
}

func TestPooling(t *testing.T) {
	tests := []struct {
		pooling Pooling
		output  string
		length  int
	}{
		{PoolingMean, "last_hidden_state", 8 * 4},
		{PoolingNone, "output", 4},
		{"", "last_hidden_state", 8 * 4},
	}
	for _, tt := range tests {
		if got := tt.pooling.outputName(); got != tt.output {
			t.Errorf("%q outputName = %s, want %s", tt.pooling, got, tt.output)
		}
		if got := tt.pooling.outputLen(8, 4); got != tt.length {
			t.Errorf("%q outputLen = %d, want %d", tt.pooling, got, tt.length)
		}
	}
	pooled := PoolingNone.pool([]float32{0.5, 0.25, 9}, nil, 2)
	if !reflect.DeepEqual(pooled, []float32{0.5, 0.25}) {
		t.Errorf("none pool = %v", pooled)
	}
}

func TestCacheKey(t *testing.T) {
	if cacheKey("  the  brave\tfox\n") != "the brave fox" {
		t.Errorf("cacheKey = %q", cacheKey("  the  brave\tfox\n"))
	}
	if cacheKey("The fox") == cacheKey("the fox") {
		t.Error("cacheKey must keep case")
	}
}
