package main

import (
	"flag"
	"fmt"
	"os"

	easy "git.fiblab.net/utils/logrus-easy-formatter"
	"github.com/sirupsen/logrus"

	"github.com/opencitylab/streetsim/clock"
	"github.com/opencitylab/streetsim/control"
	"github.com/opencitylab/streetsim/utils/config"
)

var (
	// 配置文件路径
	configPath = flag.String("config", "", "config file path")
	// 仿真推进到的虚拟时刻（秒）
	untilSecs = flag.Int64("until", 3600, "run the simulation until this virtual time (seconds)")

	// log
	logLevels = map[string]logrus.Level{
		"trace":    logrus.TraceLevel,
		"debug":    logrus.DebugLevel,
		"info":     logrus.InfoLevel,
		"warn":     logrus.WarnLevel,
		"error":    logrus.ErrorLevel,
		"critical": logrus.FatalLevel,
		"off":      logrus.PanicLevel,
	}
	logLevel = flag.String("log.level", "info", "日志级别（可选项：trace debug info warn error critical off）")

	log = logrus.WithField("module", "streetsimd")
)

func main() {
	flag.Parse()
	logrus.SetFormatter(&easy.Formatter{
		TimestampFormat: "2006-01-02 15:04:05.0000",
		LogFormat:       "[%module%] [%time%] [%lvl%] %msg%\n",
	})
	if level, ok := logLevels[*logLevel]; ok {
		logrus.SetLevel(level)
	} else {
		log.Panicf("log.level must be one of %v", logLevels)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Panicf("config file load err: %v", err)
		}
	}

	// 地图构建与需求合成属于外部管线；独立运行时装载内置演示世界
	m, sc := demoWorld()

	s, err := control.Load(m, sc, cfg)
	if err != nil {
		log.Panicf("sim load err: %v", err)
	}

	target := clock.Time(*untilSecs * int64(clock.Second))
	s.StepUntil(target)
	log.Infof("simulation reached %s", s.CurrentTime())

	for _, r := range s.FinishedTrips() {
		mode := "null"
		if r.Mode != nil {
			mode = *r.Mode
		}
		fmt.Fprintf(os.Stdout, "%s\t%v\t%s\t%.1fs\n", r.FinishTime, r.Trip, mode, r.Duration.Seconds())
	}
	summary := s.Engine().Analytics.Summarize()
	log.Infof("finished=%d cancelled=%d mean=%.1fs p90=%.1fs",
		summary.Count, s.Engine().Analytics.Cancelled(),
		summary.Mean/1000, summary.P90/1000)
}
