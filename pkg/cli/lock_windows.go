package cli

const LockSuffix = ".lock"

// DestinationLock is a no-op on Windows.
// TODO: use LockFileEx from golang.org/x/sys/windows.
type DestinationLock struct{}

func NewDestinationLock(dest string) (*DestinationLock, error) {
	return &DestinationLock{}, nil
}

func (l *DestinationLock) Acquire() error            { return nil }
func (l *DestinationLock) TryAcquire() (bool, error) { return true, nil }
func (l *DestinationLock) Release() error            { return nil }
func (l *DestinationLock) Close() error              { return nil }
