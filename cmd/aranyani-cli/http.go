package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	goahttp "goa.design/goa/v3/http"

	"aranyani/internal/services"
)

// client calls the node's control API
type client struct {
	base  string
	token string
	doer  goahttp.Doer
	debug bool
}

func newClient(base, token string, timeout int, debug bool) *client {
	var (
		doer goahttp.Doer
	)
	{
		doer = &http.Client{Timeout: time.Duration(timeout) * time.Second}
		if debug {
			doer = goahttp.NewDebugDoer(doer)
		}
	}

	return &client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		doer:  doer,
		debug: debug,
	}
}

func (c *client) newRequest(method, path string, body any) (*http.Request, error) {
	req, err := http.NewRequest(method, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		if err := goahttp.RequestEncoder(req).Encode(body); err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.doer.Do(req)
	if dd, ok := c.doer.(goahttp.DebugDoer); ok {
		dd.Fprint(os.Stderr)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	return resp, nil
}

// call sends a JSON request and decodes the JSON response into out
func (c *client) call(method, path string, body, out any) error {
	req, err := c.newRequest(method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := goahttp.ResponseDecoder(resp).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// download streams a binary response into w
func (c *client) download(path string, w io.Writer) error {
	req, err := c.newRequest(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func decodeError(resp *http.Response) error {
	var body services.ErrorResult
	if err := goahttp.ResponseDecoder(resp).Decode(&body); err != nil || body.Message == "" {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return fmt.Errorf("%s (%d): %s", body.Name, resp.StatusCode, body.Message)
}
