// 仿真错误分类：PastEvent、NoRoom、PathInvalid、SnapshotIncompatible、
// InternalInvariant。组件以普通error返回（兼容errors.Is/As）而不是panic；
// 调度进过去的PastEvent与不变式违例经由internal/alert上报（alert_handler=panic
// 时直接panic）；SnapshotIncompatible由快照恢复作为普通error返回。
package simerr

import "fmt"

type Kind int

const (
	KindPastEvent Kind = iota
	KindNoRoom
	KindPathInvalid
	KindSnapshotIncompatible
	KindInternalInvariant
)

func (k Kind) String() string {
	switch k {
	case KindPastEvent:
		return "PastEvent"
	case KindNoRoom:
		return "NoRoom"
	case KindPathInvalid:
		return "PathInvalid"
	case KindSnapshotIncompatible:
		return "SnapshotIncompatible"
	case KindInternalInvariant:
		return "InternalInvariant"
	default:
		return "Unknown"
	}
}

// Error 携带Kind与描述信息的具体错误类型
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func PastEvent(msg string) error {
	return &Error{Kind: KindPastEvent, Msg: msg}
}

func NoRoom(msg string) error {
	return &Error{Kind: KindNoRoom, Msg: msg}
}

func PathInvalid(msg string) error {
	return &Error{Kind: KindPathInvalid, Msg: msg}
}

func SnapshotIncompatible(msg string) error {
	return &Error{Kind: KindSnapshotIncompatible, Msg: msg}
}

func InternalInvariant(msg string) error {
	return &Error{Kind: KindInternalInvariant, Msg: msg}
}

// IsKind 判断err是否为指定分类的仿真错误
func IsKind(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
