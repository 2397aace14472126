//go:build !darwin && !windows

package snapshot

const platformFoldsCase = false
