// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/mattermost/callsignal/service/api"
	"github.com/mattermost/callsignal/service/calls"
	"github.com/mattermost/callsignal/service/relay"
	"github.com/mattermost/callsignal/service/ws"
)

const (
	msgChSize                = 64
	httpResponseBodyMaxBytes = 1024 * 1024 // 1MB
	defaultRequestTimeout    = 10 * time.Second
)

// Client talks to a callsignald service: registration, call bookkeeping
// over HTTP and the relay over a websocket connection.
type Client struct {
	cfg *ClientConfig

	httpClient     *http.Client
	dialFn         DialContextFn
	requestTimeout time.Duration

	token string
	mut   sync.RWMutex

	wsClient   *ws.Client
	connID     string
	receiveCh  chan relay.Message
	errorCh    chan error
	readerDone chan struct{}
	wg         sync.WaitGroup
}

func NewClient(cfg ClientConfig, opts ...ClientOption) (*Client, error) {
	if err := cfg.Parse(); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	c := &Client{
		cfg:            &cfg,
		requestTimeout: defaultRequestTimeout,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	dialFn := c.dialFn
	if dialFn == nil {
		dialFn = (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialFn,
		MaxConnsPerHost:       100,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		ResponseHeaderTimeout: 10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   1 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	c.httpClient = &http.Client{Transport: transport}

	return c, nil
}

func (c *Client) setAuth(req *http.Request) {
	c.mut.RLock()
	token := c.token
	c.mut.RUnlock()

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		return
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.AuthKey)
}

// doRequest sends a JSON request and decodes the JSON response into out
// when the status matches expected.
func (c *Client) doRequest(ctx context.Context, method, path string, in, out any, expected int) error {
	if c.httpClient == nil {
		return fmt.Errorf("http client is not initialized")
	}

	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return fmt.Errorf("failed to encode body: %w", err)
		}
		body = &buf
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.httpURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(&io.LimitedReader{
		R: resp.Body,
		N: httpResponseBodyMaxBytes,
	})

	if resp.StatusCode != expected {
		var errResp api.ErrorResponse
		if err := dec.Decode(&errResp); err == nil && errResp.Error != "" {
			return &RequestError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &RequestError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	if out == nil {
		return nil
	}

	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decoding http response failed: %w", err)
	}

	return nil
}

// RequestError is returned when the service answers with an unexpected
// status code.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return "request failed: " + e.Message
}

// Register creates a new client. If authKey is empty the service generates
// one. The key is returned.
func (c *Client) Register(clientID, authKey string) (string, error) {
	var res map[string]string
	err := c.doRequest(context.Background(), http.MethodPost, "/register", registerRequest{
		ClientID: clientID,
		AuthKey:  authKey,
	}, &res, http.StatusCreated)
	if err != nil {
		return "", err
	}

	if res["authKey"] == "" {
		return "", fmt.Errorf("unexpected empty auth key")
	}

	return res["authKey"], nil
}

func (c *Client) Unregister(clientID string) error {
	return c.doRequest(context.Background(), http.MethodPost, "/unregister", unregisterRequest{
		ClientID: clientID,
	}, nil, http.StatusOK)
}

// Login exchanges the configured credentials for a session token which is
// then used by all subsequent requests.
func (c *Client) Login(ctx context.Context) (string, error) {
	c.mut.Lock()
	c.token = ""
	c.mut.Unlock()

	var res map[string]string
	if err := c.doRequest(ctx, http.MethodPost, "/login", nil, &res, http.StatusOK); err != nil {
		return "", err
	}

	token := res["token"]
	if token == "" {
		return "", fmt.Errorf("unexpected empty token")
	}

	c.mut.Lock()
	c.token = token
	c.mut.Unlock()

	return token, nil
}

func (c *Client) CreateCall(ctx context.Context, calleeID string, mode calls.Mode) (string, error) {
	var res calls.CreateResponse
	err := c.doRequest(ctx, http.MethodPost, "/calls", calls.CreateRequest{
		CalleeID: calleeID,
		Mode:     mode,
	}, &res, http.StatusCreated)
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

func (c *Client) GetCall(ctx context.Context, callID string) (calls.Record, error) {
	var rec calls.Record
	err := c.doRequest(ctx, http.MethodGet, "/calls/"+url.PathEscape(callID), nil, &rec, http.StatusOK)
	return rec, err
}

func (c *Client) AnswerCall(ctx context.Context, callID string) error {
	return c.doRequest(ctx, http.MethodPost, "/calls/"+url.PathEscape(callID)+"/answer", nil, nil, http.StatusOK)
}

func (c *Client) RejectCall(ctx context.Context, callID string) error {
	return c.doRequest(ctx, http.MethodPost, "/calls/"+url.PathEscape(callID)+"/reject", nil, nil, http.StatusOK)
}

func (c *Client) EndCall(ctx context.Context, callID string, durationSeconds int64) error {
	return c.doRequest(ctx, http.MethodPost, "/calls/"+url.PathEscape(callID)+"/end", calls.EndRequest{
		Duration: durationSeconds,
	}, nil, http.StatusOK)
}

func (c *Client) History(ctx context.Context, limit int) ([]calls.Record, error) {
	path := "/calls/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var res calls.HistoryResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &res, http.StatusOK); err != nil {
		return nil, err
	}
	return res.Calls, nil
}

// Connect opens the relay connection. Frames sent by the relay are then
// available through ReceiveCh.
func (c *Client) Connect() error {
	if c.wsClient != nil {
		return fmt.Errorf("ws client is already initialized")
	}

	wsCfg := ws.ClientConfig{
		URL:       c.cfg.wsURL,
		AuthType:  ws.BasicClientAuthType,
		AuthToken: base64.StdEncoding.EncodeToString([]byte(c.cfg.ClientID + ":" + c.cfg.AuthKey)),
	}
	c.mut.RLock()
	if c.token != "" {
		wsCfg.AuthType = ws.BearerClientAuthType
		wsCfg.AuthToken = c.token
	}
	c.mut.RUnlock()

	var opts []ws.ClientOption
	if c.dialFn != nil {
		opts = append(opts, ws.WithDialContext(c.dialFn))
	}

	wsClient, err := ws.NewClient(wsCfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create ws client: %w", err)
	}

	c.wsClient = wsClient
	c.receiveCh = make(chan relay.Message, msgChSize)
	c.errorCh = make(chan error, msgChSize)
	c.readerDone = make(chan struct{})

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.msgReader()
	}()

	go func() {
		defer c.wg.Done()
		for {
			select {
			case err := <-c.wsClient.ErrorCh():
				c.sendError(err)
			case <-c.readerDone:
				return
			}
		}
	}()

	return nil
}

// ConnID returns the relay connection ID once the hello frame has been
// received.
func (c *Client) ConnID() string {
	c.mut.RLock()
	defer c.mut.RUnlock()
	return c.connID
}

func (c *Client) Send(msg *relay.Message) error {
	if c.wsClient == nil {
		return fmt.Errorf("ws client is not initialized")
	}

	data, err := msg.Pack()
	if err != nil {
		return fmt.Errorf("failed to pack message: %w", err)
	}
	return c.wsClient.Send(ws.BinaryMessage, data)
}

func (c *Client) JoinRoom(room string) error {
	return c.Send(relay.NewMessage(relay.JoinMessage, room, "", nil))
}

func (c *Client) LeaveRoom(room string) error {
	return c.Send(relay.NewMessage(relay.LeaveMessage, room, "", nil))
}

func (c *Client) Emit(room, event string, data []byte) error {
	return c.Send(relay.NewMessage(relay.EmitMessage, room, event, data))
}

// ReceiveCh returns the channel of relay frames. It's closed when the
// connection drops.
func (c *Client) ReceiveCh() <-chan relay.Message {
	return c.receiveCh
}

func (c *Client) ErrorCh() <-chan error {
	return c.errorCh
}

func (c *Client) Close() error {
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}
	if c.wsClient == nil {
		return nil
	}
	err := c.wsClient.Close()
	c.wg.Wait()
	return err
}

func (c *Client) sendError(err error) {
	select {
	case c.errorCh <- err:
	default:
	}
}

func (c *Client) msgReader() {
	defer func() {
		close(c.receiveCh)
		close(c.readerDone)
	}()

	for msg := range c.wsClient.ReceiveCh() {
		if msg.Type != ws.BinaryMessage {
			c.sendError(fmt.Errorf("unexpected msg type: %s", msg.Type))
			continue
		}

		var rm relay.Message
		if err := rm.Unpack(msg.Data); err != nil {
			c.sendError(fmt.Errorf("failed to unpack message: %w", err))
			continue
		}

		if rm.Type == relay.HelloMessage {
			c.mut.Lock()
			c.connID = string(rm.Data)
			c.mut.Unlock()
		}

		select {
		case c.receiveCh <- rm:
		default:
			c.sendError(fmt.Errorf("failed to send relay message: channel is full"))
		}
	}
}
