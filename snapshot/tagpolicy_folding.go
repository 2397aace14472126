//go:build darwin || windows

package snapshot

const platformFoldsCase = true
