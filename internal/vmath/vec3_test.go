package vmath

import (
	"math"
	"testing"
)

func TestFiniteRejectsNaNAndInf(t *testing.T) {
	cases := []struct {
		v    Vec3
		want bool
	}{
		{Vec3{1, 2, 3}, true},
		{Vec3{math.NaN(), 0, 0}, false},
		{Vec3{0, math.Inf(1), 0}, false},
		{Vec3{0, 0, math.Inf(-1)}, false},
	}
	for _, c := range cases {
		if got := c.v.Finite(); got != c.want {
			t.Fatalf("Finite(%v)=%v want=%v", c.v, got, c.want)
		}
	}
}

func TestYawFollowsClientConvention(t *testing.T) {
	if got := (Vec3{0, 0, 1}).Yaw(); got != 0 {
		t.Fatalf("yaw of +z=%v want=0", got)
	}
	if got := (Vec3{1, 0, 0}).Yaw(); math.Abs(got-math.Pi/2) > 1e-9 {
		t.Fatalf("yaw of +x=%v want=pi/2", got)
	}
}

func TestHorizontalLengthIgnoresY(t *testing.T) {
	if got := (Vec3{3, 100, 4}).HorizontalLength(); got != 5 {
		t.Fatalf("HorizontalLength=%v want=5", got)
	}
}

func TestMoveTowardClampsAtTarget(t *testing.T) {
	got := MoveToward(Vec3{0, 1, 0}, Vec3{0, 5, 2}, 10)
	if got != (Vec3{0, 1, 2}) {
		t.Fatalf("MoveToward=%v want=[0 1 2]", got)
	}
	got = MoveToward(Vec3{0, 0, 0}, Vec3{0, 0, 10}, 2)
	if got != (Vec3{0, 0, 2}) {
		t.Fatalf("MoveToward=%v want=[0 0 2]", got)
	}
}
