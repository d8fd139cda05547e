package socket

import (
	"github.com/pion/webrtc/v4"
)

// negotiationState WebRTC 协商状态
type negotiationState int

const (
	stateCreatingOffer negotiationState = iota
	stateOfferCreated
	stateSignalingSent
	stateAwaitingSignalingResponse
	stateRemoteDescriptionSet
	stateCandidateAdded
	stateOpen
	stateFailed
)

func (s negotiationState) String() string {
	switch s {
	case stateCreatingOffer:
		return "CreatingOffer"
	case stateOfferCreated:
		return "OfferCreated"
	case stateSignalingSent:
		return "SignalingSent"
	case stateAwaitingSignalingResponse:
		return "AwaitingSignalingResponse"
	case stateRemoteDescriptionSet:
		return "RemoteDescriptionSet"
	case stateCandidateAdded:
		return "CandidateAdded"
	case stateOpen:
		return "Open"
	case stateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// negotiationInput 驱动状态机的外部事件
type negotiationInput int

const (
	inputStart negotiationInput = iota
	inputOfferCreated
	inputLocalDescriptionSet
	inputRequestSent
	inputAnswerReceived
	inputRemoteDescriptionSet
	inputCandidateAdded
	inputChannelOpen
	inputFailed
)

func (i negotiationInput) String() string {
	switch i {
	case inputStart:
		return "start"
	case inputOfferCreated:
		return "offer-created"
	case inputLocalDescriptionSet:
		return "local-description-set"
	case inputRequestSent:
		return "request-sent"
	case inputAnswerReceived:
		return "answer-received"
	case inputRemoteDescriptionSet:
		return "remote-description-set"
	case inputCandidateAdded:
		return "candidate-added"
	case inputChannelOpen:
		return "channel-open"
	case inputFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type negotiationEvent struct {
	input       negotiationInput
	description webrtc.SessionDescription
	candidate   webrtc.ICECandidateInit
	err         error
}

// actionKind 状态迁移产生的副作用
type actionKind int

const (
	actionNone actionKind = iota
	actionCreateOffer
	actionSetLocalDescription
	actionPostOffer
	actionSetRemoteDescription
	actionAddCandidate
	actionNegotiated
	actionChannelOpened
	actionLogFailure
	actionSurfaceFailure
)

type negotiationAction struct {
	kind        actionKind
	description webrtc.SessionDescription
	candidate   webrtc.ICECandidateInit
	err         error
}

// transition 纯函数：根据当前状态与事件给出新状态与要执行的副作用。
// strict 为 false 时失败只记录日志，状态停留不变。
func transition(s negotiationState, ev negotiationEvent, strict bool) (negotiationState, negotiationAction) {
	if s == stateFailed {
		return s, negotiationAction{}
	}

	switch ev.input {
	case inputFailed:
		if strict {
			return stateFailed, negotiationAction{kind: actionSurfaceFailure, err: ev.err}
		}
		return s, negotiationAction{kind: actionLogFailure, err: ev.err}

	case inputChannelOpen:
		if s == stateOpen {
			return s, negotiationAction{}
		}
		return stateOpen, negotiationAction{kind: actionChannelOpened}
	}

	// 通道打开后，迟到的步骤完成通知不再改变状态
	if s == stateOpen {
		return s, negotiationAction{}
	}

	switch {
	case s == stateCreatingOffer && ev.input == inputStart:
		return s, negotiationAction{kind: actionCreateOffer}
	case s == stateCreatingOffer && ev.input == inputOfferCreated:
		return stateOfferCreated, negotiationAction{kind: actionSetLocalDescription, description: ev.description}
	case s == stateOfferCreated && ev.input == inputLocalDescriptionSet:
		return stateSignalingSent, negotiationAction{kind: actionPostOffer}
	case s == stateSignalingSent && ev.input == inputRequestSent:
		return stateAwaitingSignalingResponse, negotiationAction{}
	case s == stateAwaitingSignalingResponse && ev.input == inputAnswerReceived:
		return s, negotiationAction{kind: actionSetRemoteDescription, description: ev.description, candidate: ev.candidate}
	case s == stateAwaitingSignalingResponse && ev.input == inputRemoteDescriptionSet:
		return stateRemoteDescriptionSet, negotiationAction{kind: actionAddCandidate, candidate: ev.candidate}
	case s == stateRemoteDescriptionSet && ev.input == inputCandidateAdded:
		return stateCandidateAdded, negotiationAction{kind: actionNegotiated}
	}

	return s, negotiationAction{}
}
