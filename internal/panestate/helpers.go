package panestate

// Pointer helpers for Patch construction.

func Bool(v bool) *bool                     { return &v }
func ActivityOf(v Activity) *Activity       { return &v }
func CompactingOf(v Compacting) *Compacting { return &v }
func LinkOf(v Link) *Link                   { return &v }

// FocusLocked returns a patch toggling the focus-lock gate.
func FocusLocked(v bool) Patch {
	return Patch{Gates: &GatesPatch{FocusLocked: Bool(v)}}
}

// SafeMode returns a patch toggling the safe-mode gate.
func SafeMode(v bool) Patch {
	return Patch{Gates: &GatesPatch{SafeMode: Bool(v)}}
}

// CompactingState returns a patch setting the compacting gate.
func CompactingState(v Compacting) Patch {
	return Patch{Gates: &GatesPatch{Compacting: CompactingOf(v)}}
}

// ActivityState returns a patch setting the activity.
func ActivityState(v Activity) Patch {
	return Patch{Activity: ActivityOf(v)}
}

// OverlayOpen returns a patch toggling the overlay flag.
func OverlayOpen(v bool) Patch {
	return Patch{Overlay: &OverlayPatch{Open: Bool(v)}}
}
