package socket

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

const validSignalingBody = `{
	"answer": {"type": "answer", "sdp": "v=0\r\n"},
	"candidate": {"candidate": "candidate:1 1 udp 2130706431 127.0.0.1 5000 typ host", "sdpMLineIndex": 0, "sdpMid": "0"}
}`

func serverAddr(t *testing.T, ts *httptest.Server) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", strings.TrimPrefix(ts.URL, "http://"))
	if err != nil {
		t.Fatal(err)
	}
	return addr
}

func TestSignalingExchange(t *testing.T) {
	var gotBody, gotType, gotPath, gotMethod string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody, gotType, gotPath, gotMethod = string(b), r.Header.Get("Content-Type"), r.URL.Path, r.Method
		io.WriteString(w, validSignalingBody)
	}))
	defer ts.Close()

	c := newSignalingClient(serverAddr(t, ts), "/new_rtc_session", nil, 0)
	answer, cand, err := c.exchange(context.Background(), "offer-sdp")
	if err != nil {
		t.Fatalf("信令交换失败: %v", err)
	}

	if gotMethod != http.MethodPost || gotPath != "/new_rtc_session" {
		t.Errorf("请求期望 POST /new_rtc_session，实际 %s %s", gotMethod, gotPath)
	}
	if gotType != "text/plain" || gotBody != "offer-sdp" {
		t.Errorf("请求体期望纯文本 offer，实际 %q (%s)", gotBody, gotType)
	}
	if answer.Type != webrtc.SDPTypeAnswer || answer.SDP != "v=0\r\n" {
		t.Errorf("answer 解析错误: %+v", answer)
	}
	if cand.SDPMLineIndex == nil || *cand.SDPMLineIndex != 0 || cand.SDPMid == nil || *cand.SDPMid != "0" {
		t.Errorf("candidate 解析错误: %+v", cand)
	}
}

func TestSignalingRejectsBadResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"非 200", http.StatusInternalServerError, validSignalingBody},
		{"JSON 格式错误", http.StatusOK, "{not json"},
		{"缺少 candidate", http.StatusOK, `{"answer": {"type": "answer", "sdp": "v=0"}}`},
		{"缺少 answer", http.StatusOK, `{"candidate": {"candidate": "x"}}`},
		{"answer 类型错误", http.StatusOK, `{"answer": {"type": "offer", "sdp": "v=0"}, "candidate": {"candidate": "x"}}`},
		{"空 SDP", http.StatusOK, `{"answer": {"type": "answer", "sdp": ""}, "candidate": {"candidate": "x"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer ts.Close()

			c := newSignalingClient(serverAddr(t, ts), "/new_rtc_session", ts.Client(), 0)
			if _, _, err := c.exchange(context.Background(), "offer"); err == nil {
				t.Error("期望返回错误")
			}
		})
	}
}

func TestSignalingTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	c := newSignalingClient(serverAddr(t, ts), "/new_rtc_session", nil, 50*time.Millisecond)
	start := time.Now()
	if _, _, err := c.exchange(context.Background(), "offer"); err == nil {
		t.Fatal("超时应返回错误")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("超时未生效")
	}
}
