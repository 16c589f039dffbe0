package presence

// Cursor colors assigned to collaborators. The hash keeps assignment
// stable: the same user id always maps to the same color, in any
// process.
var colorPalette = []string{
	"#f97316",
	"#10b981",
	"#3b82f6",
	"#a855f7",
	"#ec4899",
	"#f59e0b",
	"#06b6d4",
	"#22c55e",
}

// PickColor returns the palette color for a user id. Pure function of
// the id, no state.
func PickColor(userID string) string {
	var h int32
	for _, r := range userID {
		h = (h << 5) - h + int32(r)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return colorPalette[v%int64(len(colorPalette))]
}
