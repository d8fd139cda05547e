package main

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/cykyes/duosock/log"
	"github.com/cykyes/duosock/metrics"
)

func TestServeMetrics(t *testing.T) {
	c := metrics.NewCollector()
	c.IncConnectionsTotal()

	addr, shutdown, err := serveMetrics("127.0.0.1:0", c, log.Nop())
	if err != nil {
		t.Fatalf("启动指标服务失败: %v", err)
	}
	defer shutdown()

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "duosock_connections_total 1") {
		t.Errorf("抓取结果缺少连接计数:\n%s", body)
	}

	resp, err = http.Get("http://" + addr + "/other")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("其他路径期望 404，实际 %d", resp.StatusCode)
	}
}

func TestPingFlags(t *testing.T) {
	cmd := pingCmd()
	if err := cmd.ParseFlags([]string{"--metrics-addr", "127.0.0.1:9100", "-n", "2"}); err != nil {
		t.Fatal(err)
	}
	if v, _ := cmd.Flags().GetString("metrics-addr"); v != "127.0.0.1:9100" {
		t.Errorf("metrics-addr 期望 127.0.0.1:9100，实际 %q", v)
	}
	if v, _ := cmd.Flags().GetInt("count"); v != 2 {
		t.Errorf("count 期望 2，实际 %d", v)
	}
}
