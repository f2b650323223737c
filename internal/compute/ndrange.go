package compute

import "fmt"

// NDRange is the launch geometry of a kernel: Global work items per
// dimension, grouped into work-groups of Local items. Global is always a
// multiple of Local.
type NDRange struct {
	Dims   int
	Global [3]int
	Local  [3]int
}

// RoundUp returns the smallest multiple of multiple that is >= value.
func RoundUp(value, multiple int) int {
	if multiple <= 0 {
		return value
	}
	if r := value % multiple; r != 0 {
		value += multiple - r
	}
	return value
}

// NewNDRange builds a launch over extent with work-group extents local.
// Each extent is rounded up to a multiple of its work-group extent, so an
// extent of 70 with a work-group extent of 8 launches 72 work items.
func NewNDRange(extent, local []int) (NDRange, error) {
	if len(extent) == 0 || len(extent) > 3 || len(extent) != len(local) {
		return NDRange{}, fmt.Errorf("%w: ndrange needs 1 to 3 dims, got extent %v local %v",
			ErrConfiguration, extent, local)
	}
	r := NDRange{Dims: len(extent), Global: [3]int{1, 1, 1}, Local: [3]int{1, 1, 1}}
	for i := range extent {
		if extent[i] < 0 || local[i] <= 0 {
			return NDRange{}, fmt.Errorf("%w: invalid ndrange dim %d: extent %d local %d",
				ErrConfiguration, i, extent[i], local[i])
		}
		r.Global[i] = RoundUp(extent[i], local[i])
		r.Local[i] = local[i]
	}
	return r, nil
}

// Groups returns the number of work-groups per dimension.
func (r NDRange) Groups() [3]int {
	var g [3]int
	for i := range g {
		g[i] = r.Global[i] / r.Local[i]
	}
	return g
}

// WorkItems returns the total number of launched work items.
func (r NDRange) WorkItems() int {
	return r.Global[0] * r.Global[1] * r.Global[2]
}

// String formats the range as "global/local".
func (r NDRange) String() string {
	return fmt.Sprintf("%v/%v", r.Global[:r.Dims], r.Local[:r.Dims])
}
