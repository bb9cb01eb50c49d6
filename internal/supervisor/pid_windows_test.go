//go:build windows

package supervisor

func pidAlive(int) bool { return false }
