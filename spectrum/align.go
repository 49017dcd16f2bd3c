package spectrum

import "math"

// Grid is a port's native spectrum frame: the frequency of its slot 0 and the
// number of slots it spans.
type Grid struct {
	MinHz float64
	Slots int
}

// SlotOffset returns the position of a frame starting at portMinHz inside a
// reference frame starting at refMinHz, in whole slots.
func SlotOffset(portMinHz, refMinHz float64) int {
	return int(math.Round((portMinHz - refMinHz) / SlotGranularityHz))
}

// Align maps a port's native bitmap into a reference frame of refSlots slots
// starting at refMinHz. The native bitmap is first masked to the port's own
// width; slots that fall before refMinHz or past the reference width are
// trimmed. The result is zero padded on both ends.
func Align(native Bitmap, port Grid, refMinHz float64, refSlots int) Bitmap {
	own := native.Shift(0, port.Slots)
	return own.Shift(SlotOffset(port.MinHz, refMinHz), refSlots)
}

// Shrink is the inverse of Align: it extracts the port's native window from a
// reference-frame bitmap and masks it to the port's width.
func Shrink(ref Bitmap, refMinHz float64, port Grid) Bitmap {
	return ref.Shift(-SlotOffset(port.MinHz, refMinHz), port.Slots)
}
