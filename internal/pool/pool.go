// Package pool 提供数据报读缓冲池，减少接收循环的 GC 压力
package pool

import (
	"sync"
)

// DatagramBufferSize 单个 UDP 数据报或数据通道消息的最大长度
const DatagramBufferSize = 65535

var datagramPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DatagramBufferSize)
		return &buf
	},
}

// Get 从池中获取读缓冲区，使用完毕后应调用 Put 归还
func Get() *[]byte {
	return datagramPool.Get().(*[]byte)
}

// Put 归还缓冲区到池
func Put(buf *[]byte) {
	if buf == nil || cap(*buf) < DatagramBufferSize {
		return
	}
	// 重置长度但保留容量
	*buf = (*buf)[:cap(*buf)]
	datagramPool.Put(buf)
}

// Copy 复制读缓冲区中的有效数据，返回的切片不再引用池内存
func Copy(buf []byte, n int) []byte {
	if n <= 0 {
		return []byte{}
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out
}
