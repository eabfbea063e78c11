package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"

	"golang.org/x/net/websocket"
)

// 每个连接的发送队列容量
const sendQueueSize = 64

// Peer 单个WebSocket连接的发送端封装。
// 事件写入只入队，由独立的写goroutine串行落到连接上，
// 慢连接或死连接不会拖住广播方；队列打满视为对端不再消费，直接断开。
type Peer struct {
	conn io.WriteCloser
	send chan Frame
	done chan struct{}
	once sync.Once
}

func newPeer(conn io.WriteCloser) *Peer {
	p := &Peer{
		conn: conn,
		send: make(chan Frame, sendQueueSize),
		done: make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

func (p *Peer) writeLoop() {
	enc := json.NewEncoder(p.conn)
	for {
		select {
		case frame := <-p.send:
			if err := enc.Encode(frame); err != nil {
				p.Close()
				return
			}
		case <-p.done:
			return
		}
	}
}

// WriteEvent 编码并入队一帧服务端事件，不阻塞调用方
func (p *Peer) WriteEvent(eventType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return errors.New("连接已关闭")
	case p.send <- Frame{Type: eventType, Payload: raw}:
		return nil
	default:
		// 队列打满说明对端长时间不消费，断开它，保住其余连接的广播
		p.Close()
		return errors.New("连接发送队列已满")
	}
}

// Close 关闭底层连接并停止写goroutine
func (p *Peer) Close() {
	p.once.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

// Handler 返回WebSocket入口处理器
func (g *Gateway) Handler() websocket.Handler {
	return websocket.Handler(g.serveConn)
}

// serveConn 单连接的读循环：逐帧解码并分发，连接关闭时走断开处理
func (g *Gateway) serveConn(ws *websocket.Conn) {
	peer := newPeer(ws)
	defer peer.Close()
	defer g.handleDisconnect(peer)

	dec := json.NewDecoder(ws)
	for {
		var frame Frame
		if err := dec.Decode(&frame); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("解码客户端消息失败: %v", err)
			}
			return
		}
		g.dispatch(peer, frame)
	}
}
