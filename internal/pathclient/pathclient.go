// Package pathclient is a typed, rate-limited wrapper over the
// upstream alist-compatible HTTP file API. Each upstream server gets
// exactly one Client, gating every outgoing request behind a counting
// semaphore of size max_connect and a requests-per-second limiter, so
// a burst of scanner and worker traffic can never overwhelm one
// upstream.
package pathclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/alist-sync/alist-sync-go/internal/constants"
	"github.com/alist-sync/alist-sync-go/internal/metrics"
	"github.com/alist-sync/alist-sync-go/internal/model"
	"github.com/alist-sync/alist-sync-go/internal/synerr"
)

// ErrNotFound is returned by Stat when the path does not exist
// upstream.
var ErrNotFound = fmt.Errorf("pathclient: not found")

// apiError is a decoded upstream failure envelope, kept structured so
// callers can tell a genuine object-not-found apart from a transient
// server error instead of string-matching a flattened message.
type apiError struct {
	Code    int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// NotFound reports whether the upstream was saying "no such object"
// rather than failing. alist answers a missing path with code 500 and
// an "object not found" message, so the code alone is not enough.
func (e *apiError) NotFound() bool {
	return e.Code == http.StatusNotFound ||
		strings.Contains(strings.ToLower(e.Message), "not found")
}

// wirePath reduces a full member URI (http://host:port/mount/sub) to
// the server-relative path the upstream API expects in request bodies
// and headers (/mount/sub). Arguments that are already
// server-relative pass through unchanged.
func wirePath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return uri
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// wireEscapedPath is wirePath with URL path escaping applied, for the
// raw /d download prefix where the path rides in the request URL
// rather than a JSON body.
func wireEscapedPath(uri string) string {
	return (&url.URL{Path: wirePath(uri)}).EscapedPath()
}

// Client is a logged-in session against one upstream server.
type Client struct {
	ServerKey string
	baseURL   string
	username  string
	password  string
	token     string

	http *http.Client
	sem  chan struct{}
	rl   *rate.Limiter

	log zerolog.Logger

	memo *memoCache
}

// Config parameterizes New.
type Config struct {
	BaseURL    string
	Username   string
	Password   string
	Token      string
	VerifyTLS  bool
	MaxConnect int
	Log        zerolog.Logger
}

// New constructs a Client for one upstream server. It does not perform
// I/O; call Login before issuing other requests if the server uses
// username/password auth.
func New(serverKey string, cfg Config) *Client {
	maxConnect := cfg.MaxConnect
	if maxConnect <= 0 {
		maxConnect = constants.DefaultMaxConnect
	}

	transport := httpTransport(cfg.VerifyTLS)

	return &Client{
		ServerKey: serverKey,
		baseURL:   cfg.BaseURL,
		username:  cfg.Username,
		password:  cfg.Password,
		token:     cfg.Token,
		http: &http.Client{
			Transport: transport,
			Timeout:   constants.DefaultPutTimeout,
		},
		sem:  make(chan struct{}, maxConnect),
		rl:   rate.NewLimiter(rate.Limit(constants.DefaultRequestsPerSecond), constants.DefaultBurst),
		log:  cfg.Log,
		memo: newMemoCache(),
	}
}

// Login authenticates against the upstream when username/password
// credentials (rather than a static token) are configured.
func (c *Client) Login(ctx context.Context) error {
	if c.token != "" {
		return nil
	}
	if c.username == "" {
		return nil
	}

	body, _ := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})

	req, err := c.newRequest(ctx, http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return synerr.Upstream("login", err)
	}
	if out.Code != 200 {
		return synerr.Upstream("login", fmt.Errorf("%d: %s", out.Code, out.Message))
	}
	c.token = out.Data.Token
	return nil
}

func (c *Client) acquire(ctx context.Context) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() {
	<-c.sem
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	ctx := req.Context()
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// apiEnvelope mirrors the upstream's {code, message, data} response
// shape used by every /api/fs/* and /api/task/* endpoint.
type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) call(ctx context.Context, method, path string, body io.Reader, contentType string) (*apiEnvelope, error) {
	timer := metrics.NewTimer()
	defer func() {
		metrics.PathClientRequestsTotal.WithLabelValues(c.ServerKey, path).Inc()
		timer.ObserveDurationVec(metrics.PathClientRequestDuration, path)
	}()

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	var env apiEnvelope
	if err := c.doJSON(req, &env); err != nil {
		return nil, synerr.Upstream(path, err)
	}
	if env.Code != 200 {
		return nil, synerr.Upstream(path, &apiError{Code: env.Code, Message: env.Message})
	}
	return &env, nil
}

// rawItem is the wire shape of one /api/fs/list or /api/fs/get entry.
type rawItem struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	IsDir    bool   `json:"is_dir"`
	Modified string `json:"modified"`
	HashInfo string `json:"hash_info,omitempty"`
}

func (r rawItem) toItem(parent string) *model.RemoteItem {
	mtime, _ := time.Parse(time.RFC3339, r.Modified)
	return &model.RemoteItem{
		URI:    joinURI(parent, r.Name),
		Parent: parent,
		Size:   r.Size,
		Mtime:  mtime,
		IsDir:  r.IsDir,
		Hash:   r.HashInfo,
	}
}

func joinURI(parent, name string) string {
	if parent == "" || parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// List lists the immediate children of dir. refresh=true forces the
// upstream to bypass its own listing cache.
func (c *Client) List(ctx context.Context, dir string, refresh bool) ([]*model.RemoteItem, error) {
	body, _ := json.Marshal(map[string]any{
		"path":    wirePath(dir),
		"refresh": refresh,
	})
	env, err := c.call(ctx, http.MethodPost, "/api/fs/list", bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}

	var data struct {
		Content []rawItem `json:"content"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, synerr.Upstream("list decode", err)
	}

	items := make([]*model.RemoteItem, 0, len(data.Content))
	for _, r := range data.Content {
		items = append(items, r.toItem(dir))
	}
	return items, nil
}

// Stat returns the RemoteItem at path. ErrNotFound is returned only
// when the upstream positively says the object does not exist; a
// transient failure (timeout, 5xx) surfaces as-is, so a recheck that
// is verifying a delete never mistakes an outage for "gone".
func (c *Client) Stat(ctx context.Context, path string) (*model.RemoteItem, error) {
	body, _ := json.Marshal(map[string]any{"path": wirePath(path)})
	env, err := c.call(ctx, http.MethodPost, "/api/fs/get", bytes.NewReader(body), "application/json")
	if err != nil {
		var ae *apiError
		if errors.As(err, &ae) && ae.NotFound() {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var r rawItem
	if err := json.Unmarshal(env.Data, &r); err != nil {
		return nil, synerr.Upstream("stat decode", err)
	}

	parent := path
	if i := lastSlash(path); i > 0 {
		parent = path[:i]
	}
	return r.toItem(parent), nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

// Mkdir creates path and any missing parents.
func (c *Client) Mkdir(ctx context.Context, path string) error {
	body, _ := json.Marshal(map[string]any{"path": wirePath(path)})
	_, err := c.call(ctx, http.MethodPost, "/api/fs/mkdir", bytes.NewReader(body), "application/json")
	return err
}

// Rename moves src to dst within the same parent storage.
func (c *Client) Rename(ctx context.Context, src, dst string) error {
	body, _ := json.Marshal(map[string]any{"src_path": wirePath(src), "dst_name": dst})
	_, err := c.call(ctx, http.MethodPost, "/api/fs/rename", bytes.NewReader(body), "application/json")
	return err
}

// Remove deletes path.
func (c *Client) Remove(ctx context.Context, path string) error {
	rel := wirePath(path)
	parent := rel
	name := rel
	if i := lastSlash(rel); i > 0 {
		parent = rel[:i]
		name = rel[i+1:]
	}
	body, _ := json.Marshal(map[string]any{"dir": parent, "names": []string{name}})
	_, err := c.call(ctx, http.MethodPost, "/api/fs/remove", bytes.NewReader(body), "application/json")
	return err
}

// Copy asks the upstream to copy names out of srcDir into dstDir,
// returning the async task ids it assigns.
func (c *Client) Copy(ctx context.Context, srcDir, dstDir string, names []string) ([]string, error) {
	body, _ := json.Marshal(map[string]any{
		"src_dir": wirePath(srcDir),
		"dst_dir": wirePath(dstDir),
		"names":   names,
	})
	env, err := c.call(ctx, http.MethodPost, "/api/fs/copy", bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}
	var data struct {
		Tasks []struct {
			ID string `json:"id"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, synerr.Upstream("copy decode", err)
	}
	ids := make([]string, 0, len(data.Tasks))
	for _, t := range data.Tasks {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

// Move asks the upstream to move names out of srcDir into dstDir,
// keeping their names, returning the async task ids it assigns. Unlike
// Rename (same-directory name change), Move is what the backup step
// uses to relocate a target into the group's backup directory before
// renaming it to its content-addressed backup name.
func (c *Client) Move(ctx context.Context, srcDir, dstDir string, names []string) ([]string, error) {
	body, _ := json.Marshal(map[string]any{
		"src_dir": wirePath(srcDir),
		"dst_dir": wirePath(dstDir),
		"names":   names,
	})
	env, err := c.call(ctx, http.MethodPost, "/api/fs/move", bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}
	var data struct {
		Tasks []struct {
			ID string `json:"id"`
		} `json:"tasks"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, synerr.Upstream("move decode", err)
	}
	ids := make([]string, 0, len(data.Tasks))
	for _, t := range data.Tasks {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

// Open streams the raw content of path, the way the upstream's public
// "/d" download prefix serves a file outside the /api/fs JSON envelope.
// The caller must close the returned ReadCloser, which also releases
// the connection semaphore acquired for the request.
func (c *Client) Open(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, 0, err
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/d"+wireEscapedPath(path), nil)
	if err != nil {
		c.release()
		return nil, 0, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.release()
		return nil, 0, synerr.Downloader("open", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		c.release()
		return nil, 0, synerr.Downloader("open", fmt.Errorf("%d: %s", resp.StatusCode, string(data)))
	}

	return &releasingBody{ReadCloser: resp.Body, release: c.release}, resp.ContentLength, nil
}

// releasingBody wraps an HTTP response body so the client's connection
// semaphore is released exactly once, when the caller closes it.
type releasingBody struct {
	io.ReadCloser
	release  func()
	released bool
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	if !b.released {
		b.released = true
		b.release()
	}
	return err
}

// Put uploads content to path, stamping last_modified. As-Task: true is
// always sent — the upstream executes the write as an async task and
// returns its id, which the worker's recheck step later confirms via
// TaskUndone.
func (c *Client) Put(ctx context.Context, path string, content io.Reader, size int64, lastModified time.Time) (taskID string, err error) {
	if err := c.acquire(ctx); err != nil {
		return "", err
	}
	defer c.release()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/api/fs/put", content)
	if err != nil {
		return "", err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("File-Path", url.QueryEscape(wirePath(path)))
	req.Header.Set("Last-Modified", strconv.FormatInt(lastModified.UnixMilli(), 10))
	req.Header.Set("As-Task", "true")
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", synerr.Upload("put", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", synerr.Upload("put", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", synerr.Upload("put", fmt.Errorf("%d: %s", resp.StatusCode, string(data)))
	}

	var env apiEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", synerr.Upload("put decode", err)
	}
	if env.Code != 200 {
		return "", synerr.Upload("put", fmt.Errorf("%d: %s", env.Code, env.Message))
	}
	var out struct {
		Task struct {
			ID string `json:"id"`
		} `json:"task"`
	}
	_ = json.Unmarshal(env.Data, &out)
	return out.Task.ID, nil
}

// TaskInfo is one entry returned by task_list/task_done/task_undone.
type TaskInfo struct {
	ID    string `json:"id"`
	State int    `json:"state"`
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

// TaskList returns all upstream tasks of the given kind
// ("copy"/"upload") filtered to state.
func (c *Client) TaskList(ctx context.Context, kind, state string) ([]TaskInfo, error) {
	env, err := c.call(ctx, http.MethodGet, fmt.Sprintf("/api/task/%s/%s", kind, state), nil, "")
	if err != nil {
		return nil, err
	}
	var tasks []TaskInfo
	if err := json.Unmarshal(env.Data, &tasks); err != nil {
		return nil, synerr.Upstream("task_list decode", err)
	}
	return tasks, nil
}

// TaskDone returns tasks of kind in the "done" state, memoized per
// (server, kind) with a 5s TTL so many workers polling the same
// upstream coalesce into one outbound request per interval.
func (c *Client) TaskDone(ctx context.Context, kind string) ([]TaskInfo, error) {
	return c.memo.get(ctx, "done:"+kind, constants.TaskDoneMemoTTL, func() ([]TaskInfo, error) {
		return c.TaskList(ctx, kind, "done")
	})
}

// TaskUndone returns tasks of kind still in flight, memoized with a 1s
// TTL.
func (c *Client) TaskUndone(ctx context.Context, kind string) ([]TaskInfo, error) {
	return c.memo.get(ctx, "undone:"+kind, constants.TaskUndoneMemoTTL, func() ([]TaskInfo, error) {
		return c.TaskList(ctx, kind, "undone")
	})
}
