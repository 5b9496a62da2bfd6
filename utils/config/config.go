// 运行配置：yaml标签的结构体，装载宿主可控的仿真选项。
package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// RuntimeConfig 宿主可控的仿真选项
type RuntimeConfig struct {
	InfiniteParking       bool   `yaml:"infinite_parking"`        // 关闭停车位稀缺
	DisableTurnConflicts  bool   `yaml:"disable_turn_conflicts"`  // 放行一切转弯（调试用）
	DisableBlockTheBox    bool   `yaml:"disable_block_the_box"`   // 跳过目标车道容量检查
	GridlockDetectionSecs int64  `yaml:"gridlock_detection_secs"` // 死锁阀门阈值（秒）
	RandomSeed            int64  `yaml:"random_seed"`             // 平局打破RNG的种子
	AlertHandler          string `yaml:"alert_handler"`           // silent/print/panic

	MapPath      string `yaml:"map_path"`
	ScenarioPath string `yaml:"scenario_path"`
	LogLevel     string `yaml:"log_level"`
}

// Default 文档化的默认值：防堵箱与转弯冲突开启、5分钟死锁阈值、
// 不变式违例直接panic
func Default() RuntimeConfig {
	return RuntimeConfig{
		InfiniteParking:       false,
		DisableTurnConflicts:  false,
		DisableBlockTheBox:    false,
		GridlockDetectionSecs: 300,
		RandomSeed:            1,
		AlertHandler:          "panic",
		LogLevel:              "info",
	}
}

// Load 读取yaml配置文件并覆盖在Default()之上
func Load(path string) (RuntimeConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
