// 不变式告警分派：运行时检测到的完整性违例按配置的alert_handler
// （silent/print/panic）统一处理，代替在每个调用点各自决定
// log.Errorf还是log.Panicf。
package alert

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "alert")

type Handler int

const (
	Silent Handler = iota
	Print
	Panic
)

// ParseHandler 解析alert_handler配置的三个取值
func ParseHandler(s string) Handler {
	switch s {
	case "silent":
		return Silent
	case "panic":
		return Panic
	default:
		return Print
	}
}

// Dispatcher 按配置的Handler响应不变式违例
type Dispatcher struct {
	Mode Handler
}

func New(mode Handler) *Dispatcher {
	return &Dispatcher{Mode: mode}
}

// Raise 上报一次检测到的违例。Panic模式下不返回
func (d *Dispatcher) Raise(format string, args ...any) {
	switch d.Mode {
	case Silent:
		return
	case Panic:
		log.Panicf(format, args...)
	default:
		log.Errorf(format, args...)
	}
}
