package connection

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newTestConnection 用 httptest 建一对真实的 WebSocket 连接，
// 返回服务端封装和清理函数
func newTestConnection(t *testing.T) (*WebSocketConnection, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverSide := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverSide <- ws
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("建立 WebSocket 连接失败: %v", err)
	}

	ws := <-serverSide
	conn := NewWebSocketConnection(ws, "user-1")

	cleanup := func() {
		conn.Close()
		client.Close()
		srv.Close()
	}
	return conn, cleanup
}

// --- 发送与关闭的并发安全 ---

func TestSendEnvelopeConcurrentWithClose(t *testing.T) {
	// 多个推送方和关闭方同时竞争同一个连接：
	// 任何交错下发送要么入队、要么报告连接已关闭，进程不崩溃
	for round := 0; round < 20; round++ {
		conn, cleanup := newTestConnection(t)

		var wg sync.WaitGroup
		start := make(chan struct{})

		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 100; j++ {
					err := conn.SendEnvelope(testEnvelope())
					if err == ErrConnectionClosed {
						return
					}
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			conn.Close()
		}()

		close(start)
		wg.Wait()

		if err := conn.SendEnvelope(testEnvelope()); err != ErrConnectionClosed {
			t.Fatalf("关闭后 SendEnvelope = %v, want ErrConnectionClosed", err)
		}
		cleanup()
	}
}

func TestCloseIdempotent(t *testing.T) {
	conn, cleanup := newTestConnection(t)
	defer cleanup()

	// 读循环的 defer 和管理器注销可能同时触发关闭
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn.Close()
		}()
	}
	wg.Wait()

	if err := conn.Close(); err != nil {
		t.Errorf("重复 Close 应返回 nil，got %v", err)
	}

	select {
	case <-conn.GetDoneChan():
	case <-time.After(time.Second):
		t.Error("Close 后 done 通道应已关闭")
	}
}

func TestSendEnvelopeBufferFull(t *testing.T) {
	conn, cleanup := newTestConnection(t)
	defer cleanup()

	// 没有写循环消费时缓冲区填满后报告队列已满，不阻塞
	var err error
	for i := 0; i < 300; i++ {
		if err = conn.SendEnvelope(testEnvelope()); err != nil {
			break
		}
	}
	if err != ErrConnectionBufferFull {
		t.Errorf("缓冲区满时 SendEnvelope = %v, want ErrConnectionBufferFull", err)
	}
}
