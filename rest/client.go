package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

// Request describes one call against the backend API.
type Request struct {
	// Defaults to GET if no Data, POST otherwise.
	Method string

	// Path relative to the client's base URL.
	Path string

	// Params are GET query parameters.
	Params map[string]string

	// Data is the JSON request body, if any.
	Data interface{}

	Headers http.Header

	// CSRFHeader overrides the configured CSRF header name for this request.
	CSRFHeader string
}

type Response struct {
	Status int
	Data   json.RawMessage
}

type Client struct {
	base   *url.URL
	conf   *core.Config
	logger core.Logger
	http   *http.Client
}

func NewClient(conf *core.Config, logger core.Logger, hc ...*http.Client) (*Client, error) {
	base, err := url.Parse(conf.API.BaseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "rest.NewClient(%s)", conf.API.BaseURL)
	}
	if logger == nil {
		logger = core.NopLogger{}
	}
	cli := &Client{base: base, conf: conf, logger: logger}
	if len(hc) > 0 && hc[0] != nil {
		cli.http = hc[0]
	} else {
		cli.http = &http.Client{}
	}
	if cli.http.Jar == nil {
		// session & CSRF cookies live here
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, errors.Wrap(err, "rest.NewClient")
		}
		cli.http.Jar = jar
	}
	return cli, nil
}

func (c *Client) BaseURL() *url.URL { return c.base }

// Do performs the request and decodes the response body.
// Non-2xx responses and transport failures are returned as *rest.Error;
// a transport failure carries status 0 ("server unreachable").
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.newHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("rest: " + httpReq.Method + " " + httpReq.URL.String())
	res, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &Error{Status: 0, Text: err.Error()}
	}
	defer res.Body.Close()

	body, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, &Error{Status: 0, Text: err.Error()}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &Error{Status: res.StatusCode, Text: res.Status, Entity: body}
	}
	return &Response{Status: res.StatusCode, Data: body}, nil
}

func (c *Client) newHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	u := *c.base
	u.Path = joinPath(u.Path, req.Path)
	if len(req.Params) > 0 {
		q := u.Query()
		for _, k := range sortedKeys(req.Params) {
			q.Set(k, req.Params[k])
		}
		u.RawQuery = q.Encode()
	}

	method := req.Method
	var body *bytes.Buffer
	if req.Data != nil {
		data, err := json.Marshal(req.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "rest: marshaling %s %s body", method, req.Path)
		}
		body = bytes.NewBuffer(data)
		if method == "" {
			method = http.MethodPost
		}
	} else {
		body = &bytes.Buffer{}
		if method == "" {
			method = http.MethodGet
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errors.Wrapf(err, "rest: building %s %s", method, req.Path)
	}
	for k, vals := range req.Headers {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Data != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	// every mutating request carries the CSRF token header
	if isMutating(method) {
		header := req.CSRFHeader
		if header == "" {
			header = c.conf.CSRF.HeaderName
		}
		if token := c.csrfToken(); token != "" {
			httpReq.Header.Set(header, token)
		}
	}
	return httpReq, nil
}

// csrfToken sources the token from the named cookie on the base URL.
func (c *Client) csrfToken() string {
	for _, ck := range c.http.Jar.Cookies(c.base) {
		if ck.Name == c.conf.CSRF.CookieName {
			return ck.Value
		}
	}
	return ""
}

// IsDisconnected reports whether err carries one of the configured
// disconnect status codes.
func (c *Client) IsDisconnected(err error) bool {
	status, ok := StatusOf(err)
	if !ok {
		return false
	}
	for _, code := range c.conf.DisconnectCodes {
		if status == code {
			return true
		}
	}
	return false
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func joinPath(base, p string) string {
	switch {
	case base == "" || base == "/":
		return p
	case p == "":
		return base
	}
	if base[len(base)-1] == '/' && p[0] == '/' {
		return base + p[1:]
	}
	if base[len(base)-1] != '/' && p[0] != '/' {
		return base + "/" + p
	}
	return base + p
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
