//go:build !linux && !darwin

package membudget

// systemRAM is not detected on this platform; the default budget applies.
func systemRAM() (uint64, bool) {
	return 0, false
}
