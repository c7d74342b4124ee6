package calibration

import "math"

// LevelingKeys are the 3x3 leveling reference points in row-major order:
//
//	A | B | C
//	D | E | F
//	G | H | I
var LevelingKeys = [9]string{"A", "B", "C", "D", "E", "F", "G", "H", "I"}

// Leveling maps a reference key to a height delta in millimetres. A missing
// key reads as zero.
type Leveling map[string]float64

// Get returns the value for key, zero when absent.
func (l Leveling) Get(key string) float64 {
	if l == nil {
		return 0
	}
	return l[key]
}

// Minus returns l - o for every key present in either map.
func (l Leveling) Minus(o Leveling) Leveling {
	out := make(Leveling, len(LevelingKeys))
	for _, k := range LevelingKeys {
		out[k] = l.Get(k) - o.Get(k)
	}
	return out
}

// Rounded returns a copy with values rounded to 1e-3, the precision the
// device accepts.
func (l Leveling) Rounded() Leveling {
	out := make(Leveling, len(l))
	for k, v := range l {
		out[k] = math.Round(v*1e3) / 1e3
	}
	return out
}

// Clone returns an independent copy.
func (l Leveling) Clone() Leveling {
	if l == nil {
		return nil
	}
	out := make(Leveling, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// RegionKey buckets (x, y) into the 3x3 grid over a width x height area.
// A coordinate exactly on a third boundary belongs to the lower bucket.
func RegionKey(x, y, width, height float64) string {
	col := 0
	if x > width*2/3 {
		col = 2
	} else if x > width/3 {
		col = 1
	}
	row := 0
	if y > height*2/3 {
		row = 2
	} else if y > height/3 {
		row = 1
	}
	return LevelingKeys[row*3+col]
}
