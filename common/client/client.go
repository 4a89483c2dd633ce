package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
)

// SysdsClient talks to sysdatasetd over its unix socket. Each api path
// (daemon.ConfigPath, daemon.UpdatePath, the pool hooks, ...) takes a JSON
// request body by POST and answers with JSON. Failures come back as a status
// body with a non-200 code; validation failures use 422 and list the
// offending fields.
type SysdsClient struct {
	cli *http.Client
}

func NewClient(addr string) *SysdsClient {
	cli := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var dialer net.Dialer
				return dialer.DialContext(ctx, "unix", addr)
			},
		},
	}
	return &SysdsClient{cli: cli}
}

// Call posts req to path and decodes the reply into res, whatever the status.
func (c *SysdsClient) Call(ctx context.Context, path string, req, res any) (int, error) {
	u := &url.URL{
		Scheme: "http",
		Host:   "_",
		Path:   path,
	}
	buf, err := json.Marshal(req)
	if err != nil {
		return 0, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpRes, err := c.cli.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer httpRes.Body.Close()
	return httpRes.StatusCode, json.NewDecoder(httpRes.Body).Decode(res)
}

// CallAndPrint is Call with the reply pretty-printed to stdout, for the cli.
func (c *SysdsClient) CallAndPrint(ctx context.Context, path string, req any) error {
	var res any
	status, err := c.Call(ctx, path, req, &res)
	if err != nil {
		fmt.Println("call error:", err)
		return err
	}
	if status != http.StatusOK {
		fmt.Println("status:", status)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("request failed with status %d", status)
	}
	return nil
}
