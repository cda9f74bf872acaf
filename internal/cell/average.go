package cell

// movingAverage is a fixed-window circular buffer of voltage samples.
// The buffer is pre-filled with a nominal value so the first cycles after
// power-up average against a plausible cell voltage instead of zero.
type movingAverage struct {
	buf []int
	idx int
}

func newMovingAverage(window, fill int) *movingAverage {
	buf := make([]int, window)
	for i := range buf {
		buf[i] = fill
	}
	return &movingAverage{buf: buf}
}

// add stores a raw sample and returns the integer mean of the window.
func (m *movingAverage) add(v int) int {
	m.buf[m.idx] = v
	m.idx = (m.idx + 1) % len(m.buf)

	sum := 0
	for _, s := range m.buf {
		sum += s
	}
	return sum / len(m.buf)
}
