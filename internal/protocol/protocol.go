// Package protocol 提供可靠数据报传输层的帧编解码
//
// 每个 KCP 消息承载一个帧: [Magic(4)] [Type(1)] [Payload]
//
// 超过单个 KCP 分段的应用消息拆成 First / Middle / Last 帧顺序发送，
// KCP 保证同一会话内的帧有序到达，接收方用 Reassembler 拼回完整消息。
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MagicBytes 协议魔术数
const MagicBytes = "DUOS"

// HeaderSize 帧头长度
const HeaderSize = 5

// 帧类型常量
const (
	FrameTypeData         = 0x02 // 完整应用数据
	FrameTypeFirst        = 0x03 // 分片起始
	FrameTypeMiddle       = 0x04 // 分片中间
	FrameTypeLast         = 0x05 // 分片结束
	FrameTypeHeartbeat    = 0x06 // 心跳请求
	FrameTypeHeartbeatAck = 0x07 // 心跳响应
	FrameTypeGoodbye      = 0x08 // 关闭通知
)

// MaxMessageSize 单条应用消息（重组后）的上限
const MaxMessageSize = 1 << 20

var (
	// ErrShortFrame 帧长度不足
	ErrShortFrame = errors.New("frame too short")
	// ErrBadMagic 魔术数不匹配
	ErrBadMagic = errors.New("bad frame magic")
	// ErrMessageTooLarge 消息超过 MaxMessageSize
	ErrMessageTooLarge = errors.New("message too large")
	// ErrFragmentOrder 收到没有起始帧的分片
	ErrFragmentOrder = errors.New("fragment without first frame")
)

// Frame 解码后的帧
type Frame struct {
	Type    byte
	Payload []byte
}

func build(frameType byte, payload []byte) []byte {
	packet := make([]byte, HeaderSize+len(payload))
	copy(packet[0:4], MagicBytes)
	packet[4] = frameType
	copy(packet[HeaderSize:], payload)
	return packet
}

// BuildDataFrame 构造数据帧
func BuildDataFrame(payload []byte) []byte {
	return build(FrameTypeData, payload)
}

// BuildDataFrames 构造一条应用消息的全部帧，每帧负载不超过 maxFragment
func BuildDataFrames(payload []byte, maxFragment int) ([][]byte, error) {
	if len(payload) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	if maxFragment <= 0 {
		return nil, errors.New("fragment size must be positive")
	}
	if len(payload) <= maxFragment {
		return [][]byte{BuildDataFrame(payload)}, nil
	}

	frames := make([][]byte, 0, len(payload)/maxFragment+1)
	frames = append(frames, build(FrameTypeFirst, payload[:maxFragment]))
	offset := maxFragment
	for len(payload)-offset > maxFragment {
		frames = append(frames, build(FrameTypeMiddle, payload[offset:offset+maxFragment]))
		offset += maxFragment
	}
	return append(frames, build(FrameTypeLast, payload[offset:])), nil
}

// IsDataFrame 报告帧是否属于应用数据（完整或分片）
func IsDataFrame(frameType byte) bool {
	return frameType >= FrameTypeData && frameType <= FrameTypeLast
}

// Reassembler 拼接分片。只由一个读取 goroutine 使用，不做同步。
type Reassembler struct {
	buf    []byte
	active bool
}

// Feed 处理一个数据帧；complete 为 true 时 msg 是完整消息的独立副本。
// 出错时丢弃已缓存的分片。
func (r *Reassembler) Feed(f Frame) (msg []byte, complete bool, err error) {
	switch f.Type {
	case FrameTypeData:
		r.Reset()
		return append([]byte{}, f.Payload...), true, nil

	case FrameTypeFirst:
		r.Reset()
		r.active = true
		r.buf = append(r.buf, f.Payload...)
		return nil, false, nil

	case FrameTypeMiddle, FrameTypeLast:
		if !r.active {
			return nil, false, ErrFragmentOrder
		}
		if len(r.buf)+len(f.Payload) > MaxMessageSize {
			r.Reset()
			return nil, false, ErrMessageTooLarge
		}
		r.buf = append(r.buf, f.Payload...)
		if f.Type == FrameTypeMiddle {
			return nil, false, nil
		}
		msg = r.buf
		r.buf = nil
		r.active = false
		return msg, true, nil

	default:
		return nil, false, fmt.Errorf("not a data frame: 0x%02x", f.Type)
	}
}

// Pending 返回已缓存的分片字节数
func (r *Reassembler) Pending() int {
	return len(r.buf)
}

// Reset 丢弃未完成的消息
func (r *Reassembler) Reset() {
	r.buf = nil
	r.active = false
}

// BuildHeartbeatFrame 构造心跳帧，负载为发送时间戳
func BuildHeartbeatFrame(timestamp int64) []byte {
	var ts [8]byte
	PutTimestamp(ts[:], timestamp)
	return build(FrameTypeHeartbeat, ts[:])
}

// BuildHeartbeatAckFrame 构造心跳响应帧，回显请求中的时间戳
func BuildHeartbeatAckFrame(timestamp int64) []byte {
	var ts [8]byte
	PutTimestamp(ts[:], timestamp)
	return build(FrameTypeHeartbeatAck, ts[:])
}

// BuildGoodbyeFrame 构造关闭通知帧
func BuildGoodbyeFrame() []byte {
	return build(FrameTypeGoodbye, nil)
}

// Decode 解析一个完整的帧；返回的 Payload 引用 data 的底层数组
func Decode(data []byte) (Frame, error) {
	if len(data) < HeaderSize {
		return Frame{}, ErrShortFrame
	}
	if !ValidateMagic(data) {
		return Frame{}, ErrBadMagic
	}
	return Frame{Type: data[4], Payload: data[HeaderSize:]}, nil
}

// PutTimestamp 将时间戳写入字节数组（小端序）
func PutTimestamp(buf []byte, timestamp int64) {
	if len(buf) < 8 {
		return
	}
	binary.LittleEndian.PutUint64(buf, uint64(timestamp))
}

// GetTimestamp 从字节数组读取时间戳（小端序）
func GetTimestamp(buf []byte) int64 {
	if len(buf) < 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(buf))
}

// ValidateMagic 验证魔术数
func ValidateMagic(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	return string(data[0:4]) == MagicBytes
}
