package testserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pion/webrtc/v4"

	"github.com/cykyes/duosock/log"
)

// DefaultSignalingPath 默认信令路径
const DefaultSignalingPath = "/new_rtc_session"

type rtcOptions struct {
	path   string
	status int
	body   string
	logger log.Logger
}

// RTCOption 信令服务器选项
type RTCOption func(*rtcOptions)

// WithStatus 固定返回指定状态码
func WithStatus(code int) RTCOption {
	return func(o *rtcOptions) {
		o.status = code
	}
}

// WithRawBody 以 200 返回固定的响应体，不做真正的协商
func WithRawBody(body string) RTCOption {
	return func(o *rtcOptions) {
		o.body = body
	}
}

// WithRTCLogger 设置日志
func WithRTCLogger(l log.Logger) RTCOption {
	return func(o *rtcOptions) {
		o.logger = l
	}
}

// RTCServer 在回环地址上提供 HTTP 信令与 WebRTC 应答方：
// 数据通道打开后，收到 "ping" 回复 "pong"，其余原样回显。
type RTCServer struct {
	opts     rtcOptions
	listener net.Listener
	server   *http.Server

	mu       sync.Mutex
	peers    []*webrtc.PeerConnection
	offers   []string
	requests int
}

// NewRTCServer 启动信令服务器
func NewRTCServer(opts ...RTCOption) (*RTCServer, error) {
	o := rtcOptions{
		path:   DefaultSignalingPath,
		logger: log.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &RTCServer{opts: o, listener: ln}

	r := chi.NewRouter()
	r.Post(o.path, s.handleSession)
	s.server = &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.logger.Error("信令服务器退出: %v", err)
		}
	}()
	return s, nil
}

// Addr 返回信令服务器地址（host:port）
func (s *RTCServer) Addr() string {
	return s.listener.Addr().String()
}

// Requests 返回收到的信令请求数
func (s *RTCServer) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Offers 返回收到的 offer 文本
func (s *RTCServer) Offers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.offers...)
}

type sessionResponse struct {
	Answer    *webrtc.SessionDescription `json:"answer"`
	Candidate webrtc.ICECandidateInit    `json:"candidate"`
}

func (s *RTCServer) handleSession(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests++
	s.offers = append(s.offers, string(body))
	s.mu.Unlock()

	if s.opts.status != 0 {
		http.Error(w, http.StatusText(s.opts.status), s.opts.status)
		return
	}
	if s.opts.body != "" {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, s.opts.body)
		return
	}

	resp, err := s.answer(r.Context(), string(body))
	if err != nil {
		s.opts.logger.Warn("应答失败: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *RTCServer) answer(ctx context.Context, offer string) (*sessionResponse, error) {
	se := webrtc.SettingEngine{}
	se.DetachDataChannels()
	se.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, err
	}

	var (
		candMu sync.Mutex
		first  *webrtc.ICECandidateInit
	)
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		candMu.Lock()
		defer candMu.Unlock()
		if first == nil {
			ci := c.ToJSON()
			first = &ci
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			raw, err := dc.Detach()
			if err != nil {
				return
			}
			go serveChannel(raw)
		})
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		pc.Close()
		return nil, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, err
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}

	candMu.Lock()
	cand := first
	candMu.Unlock()
	if cand == nil {
		pc.Close()
		return nil, errors.New("没有可用的 ICE 候选")
	}

	s.mu.Lock()
	s.peers = append(s.peers, pc)
	s.mu.Unlock()

	return &sessionResponse{Answer: pc.LocalDescription(), Candidate: *cand}, nil
}

type dataChannel interface {
	ReadDataChannel(p []byte) (int, bool, error)
	WriteDataChannel(p []byte, isString bool) (int, error)
}

func serveChannel(ch dataChannel) {
	buf := make([]byte, 65536)
	for {
		n, isString, err := ch.ReadDataChannel(buf)
		if err != nil {
			return
		}
		reply := buf[:n]
		if string(reply) == "ping" {
			reply = []byte("pong")
		}
		if _, err := ch.WriteDataChannel(reply, isString); err != nil {
			return
		}
	}
}

// Close 关闭信令服务器与所有对端
func (s *RTCServer) Close() error {
	err := s.server.Close()
	s.mu.Lock()
	peers := s.peers
	s.peers = nil
	s.mu.Unlock()
	for _, pc := range peers {
		pc.Close()
	}
	return err
}
