package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

// maxSignalingBody 信令响应体上限
const maxSignalingBody = 1 << 20

// signalingResponse 信令服务器的应答：一个 answer 与一个 ICE 候选
type signalingResponse struct {
	Answer    *webrtc.SessionDescription `json:"answer"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate"`
}

// signalingClient 一次性 HTTP 信令交换
type signalingClient struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

func newSignalingClient(server *net.UDPAddr, path string, client *http.Client, timeout time.Duration) *signalingClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &signalingClient{
		url:     "http://" + server.String() + path,
		client:  client,
		timeout: timeout,
	}
}

// exchange 发送本地 SDP，返回对端 answer 与候选
func (c *signalingClient) exchange(ctx context.Context, offer string) (webrtc.SessionDescription, webrtc.ICECandidateInit, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(offer))
	if err != nil {
		return webrtc.SessionDescription{}, webrtc.ICECandidateInit{}, fmt.Errorf("构造信令请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return webrtc.SessionDescription{}, webrtc.ICECandidateInit{}, fmt.Errorf("信令请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return webrtc.SessionDescription{}, webrtc.ICECandidateInit{}, fmt.Errorf("信令服务器返回 %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSignalingBody))
	if err != nil {
		return webrtc.SessionDescription{}, webrtc.ICECandidateInit{}, fmt.Errorf("读取信令响应失败: %w", err)
	}
	return parseSignalingResponse(body)
}

func parseSignalingResponse(body []byte) (webrtc.SessionDescription, webrtc.ICECandidateInit, error) {
	var resp signalingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return webrtc.SessionDescription{}, webrtc.ICECandidateInit{}, fmt.Errorf("信令响应格式错误: %w", err)
	}
	if resp.Answer == nil || resp.Candidate == nil {
		return webrtc.SessionDescription{}, webrtc.ICECandidateInit{}, errors.New("信令响应缺少 answer 或 candidate")
	}
	if resp.Answer.Type != webrtc.SDPTypeAnswer || resp.Answer.SDP == "" {
		return webrtc.SessionDescription{}, webrtc.ICECandidateInit{}, fmt.Errorf("信令响应中的 answer 无效: %s", resp.Answer.Type)
	}
	return *resp.Answer, *resp.Candidate, nil
}
