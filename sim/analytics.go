package sim

import (
	"github.com/montanaflynn/stats"
	"github.com/samber/lo"

	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/entity"
)

// 统计组件：完成出行台账、吞吐量打点、行程时间分布与问题事件环形日志。

// problemEventCapacity 问题事件日志的容量上限，长时间运行不会
// 因追踪每个卡死转弯而无限增长
const problemEventCapacity = 4096

// FinishedTrip 一条完成（或取消，Mode为空串）的出行记录，
// finished_trips查询的单位
type FinishedTrip struct {
	Trip       entity.TripID
	Person     entity.PersonID
	Mode       string // 取消的出行为空串
	Departure  clock.Time
	StartTime  clock.Time
	FinishTime clock.Time
}

// TravelTime 门到门的全程时长
func (f FinishedTrip) TravelTime() clock.Duration {
	return f.FinishTime.Sub(f.Departure)
}

// Cancelled 判断这条记录是否来自被取消的出行
func (f FinishedTrip) Cancelled() bool { return f.Mode == "" }

// ProblemEvent 可诊断的卡死/异常情况（死锁阀门开启、停车耗尽、
// 出行取消），供离线排查
type ProblemEvent struct {
	At     clock.Time
	Kind   string
	Detail string
}

// ThroughputSample 一次打点时刻的累计完成/取消数
type ThroughputSample struct {
	At        clock.Time
	Finished  int
	Cancelled int
}

// Analytics 运行统计的累加器
type Analytics struct {
	finished        []FinishedTrip
	cancelled       int
	problems        []ProblemEvent
	problemsDropped int
	samples         []ThroughputSample
}

func newAnalytics() *Analytics {
	return &Analytics{}
}

// RecordFinished 记入一条完成的出行
func (a *Analytics) RecordFinished(f FinishedTrip) {
	a.finished = append(a.finished, f)
}

// RecordCancelled 记入一条被取消的出行（Mode为空串，时长无定义）
func (a *Analytics) RecordCancelled(f FinishedTrip) {
	f.Mode = ""
	a.finished = append(a.finished, f)
	a.cancelled++
}

// RecordProblem 追加一条有界的诊断事件，容量满时丢最旧的
func (a *Analytics) RecordProblem(at clock.Time, kind, detail string) {
	if len(a.problems) >= problemEventCapacity {
		a.problems = a.problems[1:]
		a.problemsDropped++
	}
	a.problems = append(a.problems, ProblemEvent{At: at, Kind: kind, Detail: detail})
}

// Checkpoint 吞吐量打点：记录截至at的累计完成/取消数
func (a *Analytics) Checkpoint(at clock.Time) {
	a.samples = append(a.samples, ThroughputSample{
		At:        at,
		Finished:  len(a.finished) - a.cancelled,
		Cancelled: a.cancelled,
	})
}

// FinishedTrips 返回迄今记录的全部出行（含取消的）
func (a *Analytics) FinishedTrips() []FinishedTrip {
	out := make([]FinishedTrip, len(a.finished))
	copy(out, a.finished)
	return out
}

// Cancelled 被取消的出行数
func (a *Analytics) Cancelled() int { return a.cancelled }

// Problems 当前的诊断日志，以及为保持容量被丢弃的更旧条数
func (a *Analytics) Problems() ([]ProblemEvent, int) {
	out := make([]ProblemEvent, len(a.problems))
	copy(out, a.problems)
	return out, a.problemsDropped
}

// Throughput 迄今的全部打点
func (a *Analytics) Throughput() []ThroughputSample {
	out := make([]ThroughputSample, len(a.samples))
	copy(out, a.samples)
	return out
}

// TravelTimeSummary 成功出行的行程时间均值/中位数/90分位（毫秒）
type TravelTimeSummary struct {
	Mean   float64
	Median float64
	P90    float64
	Count  int
}

// Summarize 汇总全部成功出行的行程时间分布，尚无数据时返回零值
func (a *Analytics) Summarize() TravelTimeSummary {
	done := lo.Filter(a.finished, func(f FinishedTrip, _ int) bool { return !f.Cancelled() })
	if len(done) == 0 {
		return TravelTimeSummary{}
	}
	samples := lo.Map(done, func(f FinishedTrip, _ int) float64 { return float64(f.TravelTime()) })
	mean, _ := stats.Mean(samples)
	median, _ := stats.Median(samples)
	p90, _ := stats.Percentile(samples, 90)
	return TravelTimeSummary{Mean: mean, Median: median, P90: p90, Count: len(samples)}
}

// AnalyticsState 统计累加器的可序列化形态
type AnalyticsState struct {
	Finished        []FinishedTrip
	Cancelled       int
	Problems        []ProblemEvent
	ProblemsDropped int
	Samples         []ThroughputSample
}

// Export 导出快照状态
func (a *Analytics) Export() AnalyticsState {
	return AnalyticsState{
		Finished:        a.FinishedTrips(),
		Cancelled:       a.cancelled,
		Problems:        append([]ProblemEvent(nil), a.problems...),
		ProblemsDropped: a.problemsDropped,
		Samples:         a.Throughput(),
	}
}

// Import 从快照恢复
func (a *Analytics) Import(st AnalyticsState) {
	a.finished = append([]FinishedTrip(nil), st.Finished...)
	a.cancelled = st.Cancelled
	a.problems = append([]ProblemEvent(nil), st.Problems...)
	a.problemsDropped = st.ProblemsDropped
	a.samples = append([]ThroughputSample(nil), st.Samples...)
}
