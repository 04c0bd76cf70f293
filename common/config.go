package common

import (
	"errors"
	"os"
	"reflect"
	"runtime"
)

var (
	errInvalidConf = errors.New("invalid conf")
)

// ConfigLoader 配置内容加载器
type ConfigLoader interface {
	Load(configPath string) (content []byte, err error)

	Exist(configPath string) (exist bool, err error)
}

// ConfigFileLoader 从本地文件中加载配置
type ConfigFileLoader struct {
}

// Load impls ConfigLoader.Load
func (p *ConfigFileLoader) Load(configPath string) (content []byte, err error) {
	return os.ReadFile(configPath)
}

// Exist impls ConfigLoader.Exist
func (p *ConfigFileLoader) Exist(configPath string) (exist bool, err error) {
	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if info != nil {
		exist = !info.IsDir()
	}
	return
}

var (
	// FileLoader 默认加载
	FileLoader ConfigLoader = &ConfigFileLoader{}
)

// Configurer 配置器
type Configurer interface {
	// Parse 解析配置
	Parse() error
}

// LogConfig 日志配置
type LogConfig struct {
	Env        string `yaml:"env"`
	FileName   string `yaml:"file_name"`
	MaxSize    int    `yaml:"max_size"` //单位MB
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` //单位天
	NoCaller   bool   `yaml:"no_caller"`
	Level      string `yaml:"level"`
	Name       string `yaml:"name"`     //根logger的名称
	JSON       bool   `yaml:"json"`     //生产环境使用json编码
	Compress   bool   `yaml:"compress"` //压缩滚动的日志文件
}

// LogConfiger the log configer
type LogConfiger interface {
	GetLogConfig() *LogConfig
}

// Parse 解析日志配置
func (p *LogConfig) Parse() error {
	return initLogger(p)
}

// RuntimeConfig 运行期配置
type RuntimeConfig struct {
	Maxprocs int `yaml:"maxprocs"` //最大的PROCS个数
}

// Parse 解析运行期配置
func (p *RuntimeConfig) Parse() error {
	if p.Maxprocs > 0 {
		preProcs := runtime.GOMAXPROCS(p.Maxprocs)
		Infof("Set runtime.MAXPROCS to %v,old is %v", p.Maxprocs, preProcs)
	}
	return nil
}

// AppConfig 基础的应用配置
type AppConfig struct {
	*LogConfig     `yaml:"log"`
	*RuntimeConfig `yaml:"runtime"`
}

// Parse 解析基础的应用配置
func (p *AppConfig) Parse() error {
	return Parse(p)
}

// GetLogConfig impls LogConfiger
func (p *AppConfig) GetLogConfig() *LogConfig {
	return p.LogConfig
}

// Parse 依次调用conf中实现了Configurer的字段的Parse方法
func Parse(conf interface{}) error {
	config := reflect.Indirect(reflect.ValueOf(conf))
	fieldCount := config.NumField()

	for i := 0; i < fieldCount; i++ {
		if !config.Type().Field(i).IsExported() {
			continue
		}
		field := config.Field(i)
		if field.Kind() == reflect.Ptr && field.IsNil() {
			continue
		}
		val := reflect.Indirect(field)
		if !val.IsValid() || !val.CanAddr() {
			continue
		}

		if configFieldValue, ok := val.Addr().Interface().(Configurer); ok {
			if err := configFieldValue.Parse(); err != nil {
				return err
			}
		}
	}
	return nil
}
