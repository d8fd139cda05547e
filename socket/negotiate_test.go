package socket

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestTransitionHappyPath(t *testing.T) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}
	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host"}

	steps := []struct {
		from  negotiationState
		event negotiationEvent
		to    negotiationState
		act   actionKind
	}{
		{stateCreatingOffer, negotiationEvent{input: inputStart}, stateCreatingOffer, actionCreateOffer},
		{stateCreatingOffer, negotiationEvent{input: inputOfferCreated, description: offer}, stateOfferCreated, actionSetLocalDescription},
		{stateOfferCreated, negotiationEvent{input: inputLocalDescriptionSet}, stateSignalingSent, actionPostOffer},
		{stateSignalingSent, negotiationEvent{input: inputRequestSent}, stateAwaitingSignalingResponse, actionNone},
		{stateAwaitingSignalingResponse, negotiationEvent{input: inputAnswerReceived, description: answer, candidate: cand}, stateAwaitingSignalingResponse, actionSetRemoteDescription},
		{stateAwaitingSignalingResponse, negotiationEvent{input: inputRemoteDescriptionSet, candidate: cand}, stateRemoteDescriptionSet, actionAddCandidate},
		{stateRemoteDescriptionSet, negotiationEvent{input: inputCandidateAdded}, stateCandidateAdded, actionNegotiated},
		{stateCandidateAdded, negotiationEvent{input: inputChannelOpen}, stateOpen, actionChannelOpened},
	}

	for _, st := range steps {
		got, act := transition(st.from, st.event, false)
		if got != st.to || act.kind != st.act {
			t.Errorf("%s + %s: 期望 (%s, %d)，实际 (%s, %d)", st.from, st.event.input, st.to, st.act, got, act.kind)
		}
	}

	_, act := transition(stateCreatingOffer, negotiationEvent{input: inputOfferCreated, description: offer}, false)
	if act.description.SDP != "offer" {
		t.Error("设置本地描述的动作应携带 offer")
	}
	_, act = transition(stateAwaitingSignalingResponse, negotiationEvent{input: inputRemoteDescriptionSet, candidate: cand}, false)
	if act.candidate.Candidate != cand.Candidate {
		t.Error("添加候选的动作应携带候选")
	}
}

func TestTransitionFailurePolicy(t *testing.T) {
	cause := errors.New("boom")
	states := []negotiationState{
		stateCreatingOffer, stateOfferCreated, stateSignalingSent,
		stateAwaitingSignalingResponse, stateRemoteDescriptionSet,
	}

	for _, s := range states {
		got, act := transition(s, negotiationEvent{input: inputFailed, err: cause}, false)
		if got != s || act.kind != actionLogFailure || act.err != cause {
			t.Errorf("宽松模式下 %s 失败应停留并记录，实际 (%s, %d)", s, got, act.kind)
		}

		got, act = transition(s, negotiationEvent{input: inputFailed, err: cause}, true)
		if got != stateFailed || act.kind != actionSurfaceFailure || act.err != cause {
			t.Errorf("严格模式下 %s 失败应进入 Failed，实际 (%s, %d)", s, got, act.kind)
		}
	}
}

func TestTransitionFailedIsAbsorbing(t *testing.T) {
	inputs := []negotiationInput{
		inputStart, inputOfferCreated, inputLocalDescriptionSet, inputRequestSent,
		inputAnswerReceived, inputRemoteDescriptionSet, inputCandidateAdded,
		inputChannelOpen, inputFailed,
	}
	for _, in := range inputs {
		got, act := transition(stateFailed, negotiationEvent{input: in}, true)
		if got != stateFailed || act.kind != actionNone {
			t.Errorf("Failed + %s 应保持不变，实际 (%s, %d)", in, got, act.kind)
		}
	}
}

func TestTransitionOpenIgnoresLateSteps(t *testing.T) {
	// 通道可能先于候选添加完成而打开
	got, act := transition(stateRemoteDescriptionSet, negotiationEvent{input: inputChannelOpen}, false)
	if got != stateOpen || act.kind != actionChannelOpened {
		t.Fatalf("通道打开应直接进入 Open，实际 (%s, %d)", got, act.kind)
	}
	got, act = transition(stateOpen, negotiationEvent{input: inputCandidateAdded}, false)
	if got != stateOpen || act.kind != actionNone {
		t.Errorf("Open 后迟到的完成通知应被忽略，实际 (%s, %d)", got, act.kind)
	}
	got, act = transition(stateOpen, negotiationEvent{input: inputChannelOpen}, false)
	if got != stateOpen || act.kind != actionNone {
		t.Errorf("重复的打开通知应被忽略，实际 (%s, %d)", got, act.kind)
	}
}

func TestTransitionIgnoresOutOfOrderInput(t *testing.T) {
	got, act := transition(stateCreatingOffer, negotiationEvent{input: inputCandidateAdded}, false)
	if got != stateCreatingOffer || act.kind != actionNone {
		t.Errorf("不匹配的事件应被忽略，实际 (%s, %d)", got, act.kind)
	}
}
