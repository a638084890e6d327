package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/labdisplay/gammacal/util"
)

func ExampleArangeInt() {
	fmt.Println(util.ArangeInt(0, 255, 51, true))
	// Output: [0 51 102 153 204 255]
}

func ExampleParseIntList() {
	levels, _ := util.ParseIntList("0, 8, 16:64:16")
	fmt.Println(levels)
	// Output: [0 8 16 32 48 64]
}

func TestParseIntListRejectsGarbage(t *testing.T) {
	for _, in := range []string{"a", "1:2", "0:10:0", "0:x:1"} {
		if _, err := util.ParseIntList(in); err == nil {
			t.Errorf("expected %q to be rejected", in)
		}
	}
}

func TestIntSliceToCSV(t *testing.T) {
	inp := []int{1, 2, 3}
	expected := "1,2,3"
	out := util.IntSliceToCSV(inp)
	if expected != out {
		t.Errorf("expected %s got %s", expected, out)
	}
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampByte(t *testing.T) {
	if util.ClampByte(300) != 255 || util.ClampByte(-4) != 0 || util.ClampByte(17) != 17 {
		t.Error("ClampByte did not clamp to [0, 255]")
	}
}

func TestMillisToDuration(t *testing.T) {
	if out := util.MillisToDuration(50); out != 50*time.Millisecond {
		t.Errorf("expected 50ms, got %v", out)
	}
}
