package domain

import "errors"

// CallType is part of the wire contract; keep values stable.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

var ErrCallTypeUnknown = errors.New("unknown call type")

func ParseCallType(s string) (CallType, error) {
	switch CallType(s) {
	case CallTypeAudio, CallTypeVideo:
		return CallType(s), nil
	}
	return "", ErrCallTypeUnknown
}

func (t CallType) WithVideo() bool { return t == CallTypeVideo }

// CallRole tells which side of a 1:1 call the local endpoint plays.
type CallRole string

const (
	RoleCaller CallRole = "caller"
	RoleCallee CallRole = "callee"
)
