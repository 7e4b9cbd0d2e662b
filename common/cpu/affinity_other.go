//go:build !linux && !windows && !darwin

package cpu

func SetAffinity(cpuID int) error {
	return ErrUnsupported
}
