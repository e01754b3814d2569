package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"

	apperrors "github.com/wagoo/bridge/internal/errors"
	"github.com/wagoo/bridge/internal/httpclient"
	"github.com/wagoo/bridge/internal/logging"
)

// hostClient calls the control endpoints of a running host, trying each
// candidate address in order.
type hostClient struct {
	http       *retryablehttp.Client
	candidates []string
}

func (o *globalOptions) hostClient(cmd *cobra.Command) (*hostClient, error) {
	cfg, err := o.snapshot(cmd)
	if err != nil {
		return nil, err
	}
	if o.addr != "" && normalizeAddr(o.addr) == "" {
		return nil, apperrors.InvalidConfig("addr", fmt.Sprintf("expected host:port, got %q", o.addr))
	}
	log := o.logger(cmd.ErrOrStderr(), cfg.LogLevel)
	return &hostClient{
		http: httpclient.New(logging.Component(log, "cli"), httpclient.Options{
			RetryMax: 1,
			Timeout:  3 * time.Second,
		}),
		candidates: hostAddrCandidates(o.addr, cfg.PairingPort),
	}, nil
}

func (c *hostClient) getJSON(path string, out interface{}) (string, error) {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *hostClient) postJSON(path string, body, out interface{}) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", apperrors.Internal("encode request", err)
	}
	return c.do(http.MethodPost, path, payload, out)
}

// do sends the request to the first candidate that answers and decodes a
// 2xx JSON body into out. It returns the address that answered.
func (c *hostClient) do(method, path string, payload []byte, out interface{}) (string, error) {
	if len(c.candidates) == 0 {
		return "", apperrors.New(apperrors.CodeHostUnreachable, "no host address to try (port 0 needs --addr)")
	}

	var lastErr error
	for _, addr := range c.candidates {
		req, err := retryablehttp.NewRequest(method, "http://"+addr+path, bodyOrNil(payload))
		if err != nil {
			return "", apperrors.Internal("build request", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		err = decodeResponse(resp, out)
		resp.Body.Close()
		if err != nil {
			return addr, err
		}
		return addr, nil
	}

	return "", apperrors.Wrap(apperrors.CodeHostUnreachable,
		fmt.Sprintf("no running host at %s", strings.Join(c.candidates, ", ")), lastErr)
}

func bodyOrNil(payload []byte) interface{} {
	if payload == nil {
		return nil
	}
	return bytes.NewReader(payload)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeHostUnreachable, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body struct {
			Code    string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &body) == nil && body.Code != "" {
			return apperrors.New(body.Code, body.Message)
		}
		return apperrors.New(apperrors.CodeUnknown, fmt.Sprintf("host returned %s", resp.Status))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.Internal("decode response", err)
	}
	return nil
}
