// Package dockerapi is a thin client for the subset of the Docker Engine
// API this module needs: container create/start/inspect/kill/wait, archive
// upload, and a hijacked attach stream. It speaks HTTP/1.1 over the daemon's
// unix socket.
package dockerapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const DefaultHost = "unix:///var/run/docker.sock"

// dialSocket is swapped out by tests that serve the API from a temp socket.
var dialSocket = func(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}

type Client struct {
	socketPath string
	httpc      *http.Client
	logger     *log.Logger
}

type Options struct {
	// Host is the daemon endpoint: unix:///path/to/docker.sock or a bare
	// socket path. Empty selects DefaultHost.
	Host   string
	Logger *log.Logger
}

func New(opts Options) (*Client, error) {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = DefaultHost
	}
	socketPath, err := socketPathFor(host)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			conn, err := dialSocket(ctx, socketPath)
			if err != nil {
				return nil, fmt.Errorf("dial docker socket %s: %w", socketPath, err)
			}
			return conn, nil
		},
	}

	return &Client{
		socketPath: socketPath,
		httpc:      &http.Client{Transport: transport},
		logger:     logger,
	}, nil
}

func socketPathFor(host string) (string, error) {
	if strings.HasPrefix(host, "unix://") {
		path := strings.TrimPrefix(host, "unix://")
		if path == "" {
			return "", fmt.Errorf("invalid docker host %q: empty socket path", host)
		}
		return path, nil
	}
	if strings.HasPrefix(host, "/") {
		return host, nil
	}
	return "", fmt.Errorf("unsupported docker host %q: expected unix:// endpoint or absolute socket path", host)
}

// CreateContainer creates a container and returns its full ID.
func (c *Client) CreateContainer(ctx context.Context, cfg CreateConfig) (string, error) {
	body := createRequest{
		Image:      cfg.Image,
		Cmd:        cfg.Cmd,
		Env:        cfg.Env,
		WorkingDir: cfg.WorkingDir,
		User:       cfg.User,
		OpenStdin:  cfg.OpenStdin,
		StdinOnce:  cfg.StdinOnce,
		Tty:        cfg.TTY,
		HostConfig: createHostBlock{Binds: cfg.Binds},
	}
	path := "/containers/create"
	if cfg.Name != "" {
		path += "?name=" + url.QueryEscape(cfg.Name)
	}

	var resp createResponse
	if err := c.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		return "", fmt.Errorf("create container from image %q: %w", cfg.Image, err)
	}
	for _, warning := range resp.Warnings {
		c.logger.Warn("container create warning", "image", cfg.Image, "warning", warning)
	}
	return resp.ID, nil
}

// StartContainer starts a created container.
func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	if err := c.doJSON(ctx, http.MethodPost, "/containers/"+containerID+"/start", nil, nil); err != nil {
		return fmt.Errorf("start container %s: %w", containerID, err)
	}
	return nil
}

// InspectContainer returns the container's current state.
func (c *Client) InspectContainer(ctx context.Context, containerID string) (ContainerDetail, error) {
	var detail ContainerDetail
	if err := c.doJSON(ctx, http.MethodGet, "/containers/"+containerID+"/json", nil, &detail); err != nil {
		return ContainerDetail{}, fmt.Errorf("inspect container %s: %w", containerID, err)
	}
	return detail, nil
}

// KillContainer sends the given signal (KILL when empty) to a running
// container. It does not wait for the container to exit.
func (c *Client) KillContainer(ctx context.Context, containerID, signal string) error {
	path := "/containers/" + containerID + "/kill"
	if signal != "" {
		path += "?signal=" + url.QueryEscape(signal)
	}
	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("kill container %s: %w", containerID, err)
	}
	return nil
}

// WaitContainer blocks until the container exits and returns its exit code.
func (c *Client) WaitContainer(ctx context.Context, containerID string) (int, error) {
	var resp waitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/containers/"+containerID+"/wait", nil, &resp); err != nil {
		return 0, fmt.Errorf("wait for container %s: %w", containerID, err)
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return 0, fmt.Errorf("wait for container %s: %s", containerID, resp.Error.Message)
	}
	return resp.StatusCode, nil
}

// CopyToContainer uploads a tar archive, extracting it at destPath inside
// the container's filesystem.
func (c *Client) CopyToContainer(ctx context.Context, containerID, destPath string, content io.Reader) error {
	path := "/containers/" + containerID + "/archive?path=" + url.QueryEscape(destPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, "http://docker"+path, content)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-tar")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("copy archive to container %s: %w", containerID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("copy archive to container %s: %w", containerID, responseError(resp))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// AttachStream is a hijacked attach connection. Reads deliver the raw
// multiplexed stream (feed it to ReadFrames); writes feed the container's
// stdin.
type AttachStream struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (s *AttachStream) Read(p []byte) (int, error)  { return s.reader.Read(p) }
func (s *AttachStream) Write(p []byte) (int, error) { return s.conn.Write(p) }

// CloseWrite half-closes the connection, signalling end of stdin while
// output continues to flow.
func (s *AttachStream) CloseWrite() error {
	if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

func (s *AttachStream) Close() error { return s.conn.Close() }

// AttachContainer hijacks a connection to the container's stdio. The caller
// owns the returned stream and must close it.
func (c *Client) AttachContainer(ctx context.Context, containerID string, opts AttachOptions) (*AttachStream, error) {
	query := url.Values{}
	setFlag := func(name string, on bool) {
		if on {
			query.Set(name, "1")
		}
	}
	setFlag("stream", opts.Stream)
	setFlag("stdin", opts.Stdin)
	setFlag("stdout", opts.Stdout)
	setFlag("stderr", opts.Stderr)

	conn, err := dialSocket(ctx, c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial docker socket %s: %w", c.socketPath, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://docker/containers/"+containerID+"/attach?"+query.Encode(), nil)
	if err != nil {
		conn.Close()
		return nil, err
	}
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "tcp")

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("attach to container %s: %w", containerID, err)
	}

	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("attach to container %s: %w", containerID, err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols && resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		err := responseError(resp)
		conn.Close()
		return nil, fmt.Errorf("attach to container %s: %w", containerID, err)
	}
	conn.SetDeadline(time.Time{})

	return &AttachStream{conn: conn, reader: reader}, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://docker"+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr apiError
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("daemon responded %s: %s", resp.Status, apiErr.Message)
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		return fmt.Errorf("daemon responded %s", resp.Status)
	}
	return fmt.Errorf("daemon responded %s: %s", resp.Status, msg)
}
