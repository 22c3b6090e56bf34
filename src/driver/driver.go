// Package driver defines the hypervisor contract the kernel, admission
// workers, and update worker use to manipulate the containers backing each
// island, and its LXD implementation.
package driver

import (
	"context"
	"errors"
	"io"
	"time"
)

// ContainerState mirrors the subset of an LXD instance's state the control
// plane cares about.
type ContainerState struct {
	Name      string
	Status    string
	Ephemeral bool
}

// NetworkState is the parsed network block of an LXD instance's state, used
// to resolve the internal IPv4 address assigned by the bridge.
type NetworkState struct {
	Interfaces map[string][]string // interface name -> addresses (IPv4 and IPv6 mixed)
}

// CloneOptions configures Driver.Clone.
type CloneOptions struct {
	Config   map[string]string
	Profiles []string
}

// Driver is the hypervisor contract for one island's underlying container.
// The only implementation is LXD over its REST API; the interface exists so
// the kernel, admission workers, and update worker can be tested against an
// in-memory fake.
type Driver interface {
	Clone(ctx context.Context, sourceImageAlias, containerName string, opts CloneOptions) (*ContainerState, error)
	Start(ctx context.Context, containerName string) error
	Stop(ctx context.Context, containerName string, force bool, timeout time.Duration) error
	Delete(ctx context.Context, containerName string, stopIfRunning bool) (bool, error)
	Freeze(ctx context.Context, containerName string) error
	Unfreeze(ctx context.Context, containerName string) error
	State(ctx context.Context, containerName string) (*ContainerState, error)
	WaitIPv4(ctx context.Context, containerName string, attempts int, delay time.Duration) (string, error)
	PushFile(ctx context.Context, containerName, targetPath string, content io.Reader, mode, uid, gid *int) error
	PullFile(ctx context.Context, containerName, sourcePath string) ([]byte, error)
	Exec(ctx context.Context, containerName string, command []string) (exitCode int, stdout, stderr string, err error)
	SnapshotCreate(ctx context.Context, containerName, snapshotName string) error
	SnapshotRestore(ctx context.Context, containerName, snapshotName string) error
	SnapshotDelete(ctx context.Context, containerName, snapshotName string) error
	PullDirectoryAsTar(ctx context.Context, containerName, containerPath string) ([]byte, error)
	Exists(ctx context.Context, containerName string) (bool, error)
}

// NotFoundError is returned by Driver methods when the named container or
// snapshot does not exist in LXD.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string { return e.Resource + " not found" }

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
