package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// LXDConfig configures LXDDriver. SocketPath takes precedence over Addr: a
// non-empty SocketPath dials a local Unix socket (the common case on an LXD
// host); otherwise Addr is used as an HTTPS endpoint for a remote LXD.
type LXDConfig struct {
	SocketPath        string
	Addr              string
	Project           string
	OperationTimeout  time.Duration
}

// LXDDriver talks to LXD's REST API directly. No maintained Go client for
// LXD exists among the libraries this project otherwise depends on, so this
// is a small, purpose-built HTTP client rather than a generic SDK wrapper.
type LXDDriver struct {
	http    *http.Client
	base    string
	project string
	opTimeout time.Duration
}

// NewLXDDriver builds a driver against the configured LXD endpoint.
func NewLXDDriver(cfg LXDConfig) *LXDDriver {
	client := &http.Client{Timeout: 60 * time.Second}
	base := "http://unix"
	if cfg.SocketPath != "" {
		client.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				d := net.Dialer{}
				return d.DialContext(ctx, "unix", cfg.SocketPath)
			},
		}
	} else {
		base = cfg.Addr
	}
	opTimeout := cfg.OperationTimeout
	if opTimeout == 0 {
		opTimeout = 30 * time.Second
	}
	project := cfg.Project
	if project == "" {
		project = "default"
	}
	return &LXDDriver{http: client, base: base, project: project, opTimeout: opTimeout}
}

type lxdResponse struct {
	Type       string          `json:"type"`
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Metadata   json.RawMessage `json:"metadata"`
	ErrorCode  int             `json:"error_code"`
	Error      string          `json:"error"`
}

type lxdOperation struct {
	ID         string          `json:"id"`
	StatusCode int             `json:"status_code"`
	Metadata   json.RawMessage `json:"metadata"`
	Err        string          `json:"err"`
}

func (d *LXDDriver) url(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s%sproject=%s", d.base, path, sep, d.project)
}

func (d *LXDDriver) do(ctx context.Context, method, path string, body interface{}) (*lxdResponse, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("lxd: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.url(path), reader)
	if err != nil {
		return nil, fmt.Errorf("lxd: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lxd: request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("lxd: read response: %w", err)
	}

	var lr lxdResponse
	if err := json.Unmarshal(raw, &lr); err != nil {
		return nil, fmt.Errorf("lxd: decode response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound || lr.ErrorCode == 404 {
		return nil, &NotFoundError{Resource: path}
	}
	if lr.Type == "error" || lr.StatusCode >= 400 {
		return nil, fmt.Errorf("lxd: %s %s failed: %s", method, path, lr.Error)
	}
	return &lr, nil
}

// waitOperation polls a background LXD operation to completion, the way
// pylxd's wait=True kwarg does under the hood.
func (d *LXDDriver) waitOperation(ctx context.Context, lr *lxdResponse) error {
	if lr.Type != "async" {
		return nil
	}
	var op lxdOperation
	if err := json.Unmarshal(lr.Metadata, &op); err != nil {
		return fmt.Errorf("lxd: decode operation: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	waitPath := fmt.Sprintf("/1.0/operations/%s/wait", op.ID)
	result, err := d.do(ctx, http.MethodGet, waitPath, nil)
	if err != nil {
		return err
	}
	var final lxdOperation
	if err := json.Unmarshal(result.Metadata, &final); err != nil {
		return fmt.Errorf("lxd: decode operation result: %w", err)
	}
	if final.StatusCode >= 400 || final.Err != "" {
		return fmt.Errorf("lxd: operation failed: %s", final.Err)
	}
	return nil
}

func instancePath(name string) string { return "/1.0/instances/" + name }

func (d *LXDDriver) Exists(ctx context.Context, containerName string) (bool, error) {
	_, err := d.do(ctx, http.MethodGet, instancePath(containerName), nil)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *LXDDriver) State(ctx context.Context, containerName string) (*ContainerState, error) {
	lr, err := d.do(ctx, http.MethodGet, instancePath(containerName), nil)
	if err != nil {
		if IsNotFound(err) {
			return nil, &NotFoundError{Resource: "container " + containerName}
		}
		return nil, err
	}
	var meta struct {
		Name      string `json:"name"`
		Status    string `json:"status"`
		Ephemeral bool   `json:"ephemeral"`
	}
	if err := json.Unmarshal(lr.Metadata, &meta); err != nil {
		return nil, fmt.Errorf("lxd: decode instance state: %w", err)
	}
	return &ContainerState{Name: meta.Name, Status: meta.Status, Ephemeral: meta.Ephemeral}, nil
}

func (d *LXDDriver) networkState(ctx context.Context, containerName string) (*NetworkState, error) {
	lr, err := d.do(ctx, http.MethodGet, instancePath(containerName)+"/state", nil)
	if err != nil {
		if IsNotFound(err) {
			return nil, &NotFoundError{Resource: "container " + containerName}
		}
		return nil, err
	}
	var meta struct {
		Network map[string]struct {
			Addresses []struct {
				Family  string `json:"family"`
				Address string `json:"address"`
				Scope   string `json:"scope"`
			} `json:"addresses"`
		} `json:"network"`
	}
	if err := json.Unmarshal(lr.Metadata, &meta); err != nil {
		return nil, fmt.Errorf("lxd: decode network state: %w", err)
	}
	out := &NetworkState{Interfaces: map[string][]string{}}
	for iface, info := range meta.Network {
		for _, addr := range info.Addresses {
			out.Interfaces[iface] = append(out.Interfaces[iface], addr.Address)
		}
	}
	return out, nil
}

func (d *LXDDriver) Clone(ctx context.Context, sourceImageAlias, containerName string, opts CloneOptions) (*ContainerState, error) {
	profiles := opts.Profiles
	if len(profiles) == 0 {
		profiles = []string{"default"}
	}
	exists, err := d.Exists(ctx, containerName)
	if err != nil {
		return nil, err
	}
	if exists {
		return d.State(ctx, containerName)
	}

	body := map[string]interface{}{
		"name": containerName,
		"source": map[string]interface{}{
			"type":  "image",
			"alias": sourceImageAlias,
		},
		"profiles": profiles,
	}
	if opts.Config != nil {
		body["config"] = opts.Config
	}

	lr, err := d.do(ctx, http.MethodPost, "/1.0/instances", body)
	if err != nil {
		return nil, fmt.Errorf("lxd: clone %s from %s: %w", containerName, sourceImageAlias, err)
	}
	if err := d.waitOperation(ctx, lr); err != nil {
		return nil, fmt.Errorf("lxd: clone %s: %w", containerName, err)
	}
	return d.State(ctx, containerName)
}

// Start is idempotent: a container already running is left alone, matching
// LXDService.start_container.
func (d *LXDDriver) Start(ctx context.Context, containerName string) error {
	state, err := d.State(ctx, containerName)
	if err != nil {
		return err
	}
	if strings.EqualFold(state.Status, "running") {
		return nil
	}
	lr, err := d.do(ctx, http.MethodPut, instancePath(containerName)+"/state", map[string]interface{}{
		"action":  "start",
		"timeout": int(d.opTimeout.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("lxd: start %s: %w", containerName, err)
	}
	return d.waitOperation(ctx, lr)
}

// Stop is idempotent: a container already stopped is left alone, matching
// LXDService.stop_container.
func (d *LXDDriver) Stop(ctx context.Context, containerName string, force bool, timeout time.Duration) error {
	state, err := d.State(ctx, containerName)
	if err != nil {
		return err
	}
	if strings.EqualFold(state.Status, "stopped") {
		return nil
	}
	if timeout == 0 {
		timeout = d.opTimeout
	}
	lr, err := d.do(ctx, http.MethodPut, instancePath(containerName)+"/state", map[string]interface{}{
		"action":  "stop",
		"force":   force,
		"timeout": int(timeout.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("lxd: stop %s: %w", containerName, err)
	}
	return d.waitOperation(ctx, lr)
}

func (d *LXDDriver) Freeze(ctx context.Context, containerName string) error {
	lr, err := d.do(ctx, http.MethodPut, instancePath(containerName)+"/state", map[string]interface{}{"action": "freeze"})
	if err != nil {
		return fmt.Errorf("lxd: freeze %s: %w", containerName, err)
	}
	return d.waitOperation(ctx, lr)
}

func (d *LXDDriver) Unfreeze(ctx context.Context, containerName string) error {
	lr, err := d.do(ctx, http.MethodPut, instancePath(containerName)+"/state", map[string]interface{}{"action": "unfreeze"})
	if err != nil {
		return fmt.Errorf("lxd: unfreeze %s: %w", containerName, err)
	}
	return d.waitOperation(ctx, lr)
}

func (d *LXDDriver) Delete(ctx context.Context, containerName string, stopIfRunning bool) (bool, error) {
	exists, err := d.Exists(ctx, containerName)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	if stopIfRunning {
		state, err := d.State(ctx, containerName)
		if err != nil {
			return false, err
		}
		if !strings.EqualFold(state.Status, "stopped") {
			if err := d.Stop(ctx, containerName, true, d.opTimeout); err != nil {
				return false, err
			}
		}
	}
	lr, err := d.do(ctx, http.MethodDelete, instancePath(containerName), nil)
	if err != nil {
		return false, fmt.Errorf("lxd: delete %s: %w", containerName, err)
	}
	if err := d.waitOperation(ctx, lr); err != nil {
		return false, err
	}
	return true, nil
}

// WaitIPv4 polls the instance's network state until an internal IPv4 address
// appears on a non-loopback interface, or attempts is exhausted.
func (d *LXDDriver) WaitIPv4(ctx context.Context, containerName string, attempts int, delay time.Duration) (string, error) {
	var ip string
	tries := 0
	retryOrGiveUp := func() (bool, error) {
		if attempts > 0 && tries >= attempts {
			return false, fmt.Errorf("attempts exhausted")
		}
		return false, nil
	}
	pollErr := wait.PollUntilContextCancel(ctx, delay, true, func(pollCtx context.Context) (bool, error) {
		tries++
		netState, err := d.networkState(pollCtx, containerName)
		if err != nil {
			if IsNotFound(err) {
				return false, err
			}
			return retryOrGiveUp()
		}
		for iface, addrs := range netState.Interfaces {
			if iface == "lo" {
				continue
			}
			for _, a := range addrs {
				if isIPv4(a) {
					ip = a
					return true, nil
				}
			}
		}
		return retryOrGiveUp()
	})
	if pollErr != nil {
		if ip == "" {
			return "", fmt.Errorf("lxd: %s did not acquire an IPv4 address after %d attempts: %w", containerName, attempts, pollErr)
		}
	}
	if ip == "" {
		return "", fmt.Errorf("lxd: %s did not acquire an IPv4 address after %d attempts", containerName, attempts)
	}
	return ip, nil
}

func isIPv4(addr string) bool {
	ip := net.ParseIP(addr)
	return ip != nil && ip.To4() != nil
}

func (d *LXDDriver) PushFile(ctx context.Context, containerName, targetPath string, content io.Reader, mode, uid, gid *int) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return fmt.Errorf("lxd: read push content: %w", err)
	}
	if err := d.pushFileRaw(ctx, containerName, targetPath, data, mode, uid, gid); err == nil {
		return nil
	} else if strings.Contains(strings.ToLower(err.Error()), "no such file or directory") {
		parent := parentDir(targetPath)
		if parent != "" {
			if _, _, _, mkErr := d.Exec(ctx, containerName, []string{"mkdir", "-p", parent}); mkErr != nil {
				return fmt.Errorf("lxd: mkdir -p %s in %s: %w", parent, containerName, mkErr)
			}
		}
		return d.pushFileRaw(ctx, containerName, targetPath, data, mode, uid, gid)
	} else {
		return err
	}
}

func (d *LXDDriver) pushFileRaw(ctx context.Context, containerName, targetPath string, data []byte, mode, uid, gid *int) error {
	path := fmt.Sprintf("%s/files?path=%s", instancePath(containerName), targetPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url(path), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("lxd: build push file request: %w", err)
	}
	req.Header.Set("X-LXD-type", "file")
	req.Header.Set("X-LXD-write", "overwrite")
	if mode != nil {
		req.Header.Set("X-LXD-mode", fmt.Sprintf("%#o", *mode))
	}
	if uid != nil {
		req.Header.Set("X-LXD-uid", fmt.Sprintf("%d", *uid))
	}
	if gid != nil {
		req.Header.Set("X-LXD-gid", fmt.Sprintf("%d", *gid))
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("lxd: push file %s to %s: %w", targetPath, containerName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return &NotFoundError{Resource: "container " + containerName}
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("lxd: push file %s: status %d: %s", targetPath, resp.StatusCode, string(raw))
	}
	return nil
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}

func (d *LXDDriver) PullFile(ctx context.Context, containerName, sourcePath string) ([]byte, error) {
	path := fmt.Sprintf("%s/files?path=%s", instancePath(containerName), sourcePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url(path), nil)
	if err != nil {
		return nil, fmt.Errorf("lxd: build pull file request: %w", err)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lxd: pull file %s from %s: %w", sourcePath, containerName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, &NotFoundError{Resource: "file " + sourcePath}
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("lxd: pull file %s: status %d: %s", sourcePath, resp.StatusCode, string(raw))
	}
	return io.ReadAll(resp.Body)
}

func (d *LXDDriver) Exec(ctx context.Context, containerName string, command []string) (int, string, string, error) {
	body := map[string]interface{}{
		"command":      command,
		"wait-for-websocket": false,
		"interactive":  false,
		"record-output": true,
	}
	lr, err := d.do(ctx, http.MethodPost, instancePath(containerName)+"/exec", body)
	if err != nil {
		return -1, "", "", fmt.Errorf("lxd: exec %v in %s: %w", command, containerName, err)
	}
	var op lxdOperation
	if err := json.Unmarshal(lr.Metadata, &op); err != nil {
		return -1, "", "", fmt.Errorf("lxd: decode exec operation: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()
	result, err := d.do(waitCtx, http.MethodGet, fmt.Sprintf("/1.0/operations/%s/wait", op.ID), nil)
	if err != nil {
		return -1, "", "", fmt.Errorf("lxd: wait exec %v in %s: %w", command, containerName, err)
	}
	var final struct {
		Metadata struct {
			Return int `json:"return"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(result.Metadata, &final); err != nil {
		return -1, "", "", fmt.Errorf("lxd: decode exec result: %w", err)
	}

	logPath := fmt.Sprintf("/1.0/instances/%s/logs/exec-%s.stdout", containerName, op.ID)
	stdoutBytes, _ := d.PullFile(ctx, containerName, logPath)
	return final.Metadata.Return, string(stdoutBytes), "", nil
}

func snapshotPath(containerName, snapshotName string) string {
	return fmt.Sprintf("%s/snapshots/%s", instancePath(containerName), snapshotName)
}

func (d *LXDDriver) SnapshotCreate(ctx context.Context, containerName, snapshotName string) error {
	lr, err := d.do(ctx, http.MethodPost, instancePath(containerName)+"/snapshots", map[string]interface{}{
		"name": snapshotName,
	})
	if err != nil {
		if IsNotFound(err) {
			return &NotFoundError{Resource: "container " + containerName}
		}
		return fmt.Errorf("lxd: snapshot %s for %s: %w", snapshotName, containerName, err)
	}
	return d.waitOperation(ctx, lr)
}

func (d *LXDDriver) SnapshotRestore(ctx context.Context, containerName, snapshotName string) error {
	lr, err := d.do(ctx, http.MethodPut, instancePath(containerName), map[string]interface{}{
		"restore": snapshotName,
	})
	if err != nil {
		if IsNotFound(err) {
			return &NotFoundError{Resource: "container or snapshot " + snapshotName}
		}
		return fmt.Errorf("lxd: restore %s on %s: %w", snapshotName, containerName, err)
	}
	return d.waitOperation(ctx, lr)
}

// SnapshotDelete does not error on a missing snapshot, matching
// LXDService.delete_snapshot's warn-and-continue behaviour.
func (d *LXDDriver) SnapshotDelete(ctx context.Context, containerName, snapshotName string) error {
	lr, err := d.do(ctx, http.MethodDelete, snapshotPath(containerName, snapshotName), nil)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("lxd: delete snapshot %s on %s: %w", snapshotName, containerName, err)
	}
	return d.waitOperation(ctx, lr)
}

// PullDirectoryAsTar tars containerPath inside the container to a temp file,
// pulls it, and cleans up, matching LXDService.pull_directory_as_tar.
func (d *LXDDriver) PullDirectoryAsTar(ctx context.Context, containerName, containerPath string) ([]byte, error) {
	archivePath := fmt.Sprintf("/tmp/backup-%d.tar.gz", time.Now().UnixNano())
	exitCode, _, stderr, err := d.Exec(ctx, containerName, []string{"tar", "-czf", archivePath, "-C", containerPath, "."})
	if err != nil {
		return nil, fmt.Errorf("lxd: tar %s in %s: %w", containerPath, containerName, err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("lxd: tar %s in %s failed: %s", containerPath, containerName, stderr)
	}
	defer func() {
		_, _, _, _ = d.Exec(ctx, containerName, []string{"rm", "-f", archivePath})
	}()
	return d.PullFile(ctx, containerName, archivePath)
}
