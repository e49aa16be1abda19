package routeros

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/isp-billing/internal/metrics"
	"github.com/jmehdipour/isp-billing/internal/model"
)

// RESTOptions tune the RouterOS v7 REST client.
type RESTOptions struct {
	Scheme        string        // http | https
	Timeout       time.Duration // per call
	InsecureTLS   bool          // routers commonly ship self-signed certificates
	FailThreshold int
	OpenFor       time.Duration
}

// RESTClient speaks the RouterOS REST API (/rest/ppp/secret, /rest/ppp/active).
type RESTClient struct {
	baseURL  string
	username string
	password string
	timeout  time.Duration
	client   *http.Client
	br       *Breaker
}

func NewRESTClient(r model.Router, opts RESTOptions) *RESTClient {
	if opts.Scheme == "" {
		opts.Scheme = "https"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	host := r.Host
	if r.Port > 0 {
		host = net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureTLS {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per deployment
	}

	br := NewBreaker(opts.FailThreshold, opts.OpenFor)
	device := r.DeviceID()
	br.onChange = func(s BreakerState) {
		metrics.DeviceBreakerOpen.WithLabelValues(device).Set(boolGauge(s != BreakerClosed))
	}

	return &RESTClient{
		baseURL:  opts.Scheme + "://" + host + "/rest",
		username: r.Username,
		password: r.Password,
		timeout:  opts.Timeout,
		client:   &http.Client{Transport: tr},
		br:       br,
	}
}

var _ Device = (*RESTClient)(nil)

// wire shapes: RouterOS encodes every scalar as a string

type restSecret struct {
	ID       string `json:".id,omitempty"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password,omitempty"`
	Service  string `json:"service,omitempty"`
	Profile  string `json:"profile,omitempty"`
	CallerID string `json:"caller-id,omitempty"`
	Disabled string `json:"disabled,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

type restActive struct {
	ID         string `json:".id"`
	Name       string `json:"name"`
	Service    string `json:"service"`
	CallerID   string `json:"caller-id"`
	Address    string `json:"address"`
	Uptime     string `json:"uptime"`
	Encoding   string `json:"encoding"`
	BytesIn    string `json:"bytes-in"`
	BytesOut   string `json:"bytes-out"`
	PacketsIn  string `json:"packets-in"`
	PacketsOut string `json:"packets-out"`
}

type restError struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// statusError is a non-2xx reply. 4xx replies prove the device is reachable.
type statusError struct {
	Status int
	Detail string
}

func (e *statusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("status=%d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("status=%d", e.Status)
}

func (c *RESTClient) ListSecrets(ctx context.Context) ([]model.Secret, error) {
	var rows []restSecret
	if err := c.call(ctx, OpListSecrets, http.MethodGet, "/ppp/secret", nil, &rows); err != nil {
		return nil, err
	}
	out := make([]model.Secret, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Secret{
			ID:       r.ID,
			Name:     r.Name,
			Password: r.Password,
			Service:  r.Service,
			Profile:  r.Profile,
			CallerID: r.CallerID,
			Disabled: parseBool(r.Disabled),
			Comment:  r.Comment,
		})
	}
	return out, nil
}

func (c *RESTClient) ListActiveSessions(ctx context.Context) ([]model.Session, error) {
	var rows []restActive
	if err := c.call(ctx, OpListSessions, http.MethodGet, "/ppp/active", nil, &rows); err != nil {
		return nil, err
	}
	out := make([]model.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.Session{
			ID:         r.ID,
			Name:       r.Name,
			Service:    r.Service,
			CallerID:   r.CallerID,
			Address:    r.Address,
			Uptime:     r.Uptime,
			Encoding:   r.Encoding,
			BytesIn:    parseUint(r.BytesIn),
			BytesOut:   parseUint(r.BytesOut),
			PacketsIn:  parseUint(r.PacketsIn),
			PacketsOut: parseUint(r.PacketsOut),
		})
	}
	return out, nil
}

func (c *RESTClient) AddSecret(ctx context.Context, spec model.SecretSpec) (string, error) {
	service := spec.Service
	if service == "" {
		service = "pppoe"
	}
	body := restSecret{
		Name:     spec.Name,
		Password: spec.Password,
		Service:  service,
		Profile:  spec.Profile,
		Disabled: formatBool(spec.Disabled),
		Comment:  spec.Comment,
	}
	var created restSecret
	if err := c.call(ctx, OpAddSecret, http.MethodPut, "/ppp/secret", body, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", wrap(OpAddSecret, ErrBadResponse)
	}
	return created.ID, nil
}

func (c *RESTClient) UpdateSecret(ctx context.Context, id string, upd model.SecretUpdate) error {
	body := map[string]string{}
	if upd.Name != nil {
		body["name"] = *upd.Name
	}
	if upd.Password != nil {
		body["password"] = *upd.Password
	}
	if upd.Profile != nil {
		body["profile"] = *upd.Profile
	}
	if upd.Disabled != nil {
		body["disabled"] = formatBool(*upd.Disabled)
	}
	if upd.Comment != nil {
		body["comment"] = *upd.Comment
	}
	return c.call(ctx, OpUpdateSecret, http.MethodPatch, secretPath(id), body, nil)
}

func (c *RESTClient) DisableSecret(ctx context.Context, id string) error {
	return c.call(ctx, OpDisableSecret, http.MethodPatch, secretPath(id), map[string]string{"disabled": "true"}, nil)
}

func (c *RESTClient) EnableSecret(ctx context.Context, id string) error {
	return c.call(ctx, OpEnableSecret, http.MethodPatch, secretPath(id), map[string]string{"disabled": "false"}, nil)
}

func (c *RESTClient) RemoveSecret(ctx context.Context, id string) error {
	return c.call(ctx, OpRemoveSecret, http.MethodDelete, secretPath(id), nil, nil)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func secretPath(id string) string {
	return "/ppp/secret/" + url.PathEscape(id)
}

// call performs one request under the per-call timeout and the circuit breaker.
func (c *RESTClient) call(ctx context.Context, op, method, path string, in, out any) error {
	if !c.br.Allow() {
		metrics.DeviceCallsTotal.WithLabelValues(op, "circuit_open").Inc()
		return wrap(op, ErrCircuitOpen)
	}

	err := c.do(ctx, method, path, in, out)

	// a 4xx means the router answered
	var se *statusError
	c.br.Done(err != nil && !(errors.As(err, &se) && se.Status < 500))

	if err != nil {
		metrics.DeviceCallsTotal.WithLabelValues(op, "error").Inc()
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			return wrap(op, fmt.Errorf("%w: %v", ErrSecretNotFound, err))
		}
		return wrap(op, err)
	}
	metrics.DeviceCallsTotal.WithLabelValues(op, "ok").Inc()
	return nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return err
	}

	if res.StatusCode/100 != 2 {
		var re restError
		_ = json.Unmarshal(raw, &re)
		detail := strings.TrimSpace(re.Detail)
		if detail == "" {
			detail = re.Message
		}
		return &statusError{Status: res.StatusCode, Detail: detail}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "yes":
		return true
	}
	return false
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func parseUint(s string) uint64 {
	n, _ := strconv.ParseUint(s, 10, 64)
	return n
}
