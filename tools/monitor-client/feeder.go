package main

import (
	"encoding/json"
	"fmt"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"
	jsonrpc "github.com/tendermint/tendermint/rpc/jsonrpc/types"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

const (
	sendTimeout = 10 * time.Second
	// see https://github.com/tendermint/tendermint/blob/master/rpc/lib/server/handlers.go
	pingPeriod = (30 * 9 / 10) * time.Second
)

// feeder 模拟本地状态构建器，按固定间隔通过new_state_hash把新高度的状态交给节点
// 多个节点用同一个seed得到一致的chain，换一个seed或diverge-at可以制造冲突
type feeder struct {
	Target     string
	StateType  string
	FromHeight int64
	Count      int64
	Interval   time.Duration
	Seed       string
	DivergeAt  int64

	conn     *websocket.Conn
	endingWg sync.WaitGroup
	stopped  chan struct{}
	stopOnce sync.Once

	logger log.Logger
}

func newFeeder(target, stateType string, fromHeight, count int64, interval time.Duration, seed string) *feeder {
	return &feeder{
		Target:     target,
		StateType:  stateType,
		FromHeight: fromHeight,
		Count:      count,
		Interval:   interval,
		Seed:       seed,
		DivergeAt:  -1,
		stopped:    make(chan struct{}),
		logger:     log.NewNopLogger(),
	}
}

// SetLogger lets you set your own logger
func (f *feeder) SetLogger(l log.Logger) {
	f.logger = l
}

// Start opens the connection and creates read and write goroutines.
func (f *feeder) Start() error {
	c, _, err := connect(f.Target)
	if err != nil {
		return err
	}
	f.conn = c

	f.endingWg.Add(2)
	go f.sendLoop()
	go f.receiveLoop()
	return nil
}

// Wait blocks until all states are sent and the connection is closed.
func (f *feeder) Wait() {
	f.endingWg.Wait()
	f.conn.Close()
}

func (f *feeder) Stop() {
	f.stopOnce.Do(func() { close(f.stopped) })
}

// stateAt 同一个seed在同一高度得到同样的状态
func (f *feeder) stateAt(height int64) string {
	seed := f.Seed
	if f.DivergeAt >= 0 && height >= f.DivergeAt {
		seed += "-diverged"
	}
	return fmt.Sprintf("%s/%s/%d", seed, f.StateType, height)
}

// receiveLoop reads the rpc responses, errors are logged.
func (f *feeder) receiveLoop() {
	defer f.endingWg.Done()
	for {
		var resp jsonrpc.RPCResponse
		if err := f.conn.ReadJSON(&resp); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				select {
				case <-f.stopped:
				default:
					f.logger.Error("failed to read response", "err", err)
				}
			}
			return
		}
		if resp.Error != nil {
			f.logger.Error("new_state_hash failed", "id", resp.ID, "err", resp.Error)
			continue
		}
		f.logger.Debug("new_state_hash ok", "id", resp.ID, "result", string(resp.Result))
	}
}

// sendLoop sends one state per interval.
func (f *feeder) sendLoop() {
	defer f.endingWg.Done()
	c := f.conn

	c.SetPingHandler(func(message string) error {
		err := c.WriteControl(websocket.PongMessage, []byte(message), time.Now().Add(sendTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		} else if e, ok := err.(net.Error); ok && e.Temporary() {
			return nil
		}
		return err
	})

	logger := f.logger.With("addr", c.RemoteAddr())

	pingsTicker := time.NewTicker(pingPeriod)
	statesTicker := time.NewTicker(f.Interval)
	defer func() {
		pingsTicker.Stop()
		statesTicker.Stop()
	}()

	height := f.FromHeight
	for {
		select {
		case <-statesTicker.C:
			if err := f.sendState(height); err != nil {
				logger.Error(err.Error())
				f.closeConn(logger)
				return
			}
			logger.Info("sent state", "stateType", f.StateType, "height", height)
			height++
			if f.Count > 0 && height >= f.FromHeight+f.Count {
				// 等最后一个回复
				time.Sleep(time.Second)
				f.closeConn(logger)
				return
			}

		case <-pingsTicker.C:
			// go-rpc server closes the connection in the absence of pings
			c.SetWriteDeadline(time.Now().Add(sendTimeout))
			if err := c.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				err = errors.Wrap(err, "failed to write ping message")
				logger.Error(err.Error())
			}

		case <-f.stopped:
			f.closeConn(logger)
			return
		}
	}
}

func (f *feeder) sendState(height int64) error {
	paramsJSON, err := json.Marshal(map[string]interface{}{
		"state_type": f.StateType,
		"height":     strconv.FormatInt(height, 10),
		"state":      f.stateAt(height),
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode params")
	}

	f.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	err = f.conn.WriteJSON(jsonrpc.RPCRequest{
		JSONRPC: "2.0",
		ID:      jsonrpc.JSONRPCStringID(fmt.Sprintf("feeder-%d", height)),
		Method:  "new_state_hash",
		Params:  json.RawMessage(paramsJSON),
	})
	return errors.Wrapf(err, "state send failed at height %d", height)
}

func (f *feeder) closeConn(logger log.Logger) {
	// To cleanly close a connection, a client should send a close
	// frame and wait for the server to close the connection.
	f.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	err := f.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		logger.Error(errors.Wrap(err, "failed to write close message").Error())
	}
}

func connect(host string) (*websocket.Conn, *http.Response, error) {
	u := url.URL{Scheme: "ws", Host: host, Path: "/websocket"}
	return websocket.DefaultDialer.Dial(u.String(), nil)
}
