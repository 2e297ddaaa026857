// Package service turns one accepted connection into a loop of synchronous
// request/response exchanges, and provides the matching typed clients.
package service

import (
	"errors"
	"strings"
)

// Protocol tokens
const (
	// EmptySpeech is the transcription of a recording with no speech in it.
	EmptySpeech = "[EMPTY SPEECH]"
	// ActionDone acknowledges that the action capability has finished speaking.
	ActionDone = "[ACTION DONE]"
	// StartReading is sent by the synthesis capability right before audio plays.
	StartReading = "[START READING]"
	// FinishReading is sent by the synthesis capability after playback ends.
	FinishReading = "[FINISH READING]"
	// StopReading is an older spelling of FinishReading, still accepted.
	StopReading = "[STOP READING]"
)

// EmptyReply stands in for a blank model reply. A message is never empty on
// the wire.
const EmptyReply = "Sorry, I have nothing to say to that."

// Capability names, used for logging, metrics and `serve <name>`.
const (
	CapabilitySTT    = "stt"
	CapabilityLLM    = "llm"
	CapabilityTTS    = "tts"
	CapabilityAction = "action"
)

// Capabilities lists every capability in supervisor start order: synthesis
// first since action dials it.
var Capabilities = []string{CapabilityTTS, CapabilityAction, CapabilityLLM, CapabilitySTT}

// ErrProtocol is returned when a peer breaks the exchange convention.
var ErrProtocol = errors.New("protocol violation")

var ackTokens = []string{StartReading, FinishReading, StopReading}

// isAckPrefix reports whether s could still grow into an acknowledgement.
func isAckPrefix(s string) bool {
	for _, tok := range ackTokens {
		if strings.HasPrefix(tok, s) {
			return true
		}
	}
	return false
}
