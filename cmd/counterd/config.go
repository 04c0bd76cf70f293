package main

import (
	"path/filepath"

	"github.com/d0ngw/counters/cache"
	c "github.com/d0ngw/counters/common"
	"github.com/d0ngw/counters/counter"
	"github.com/d0ngw/counters/http"
	"github.com/d0ngw/counters/kafka"
	"github.com/d0ngw/counters/orm"
	"github.com/pkg/errors"
)

// Config counterd的配置
type Config struct {
	c.AppConfig `yaml:",inline"`
	DB          *orm.DBConfig            `yaml:"db"`
	Redis       *cache.RedisConf         `yaml:"redis"`
	Counter     *counter.CounterConfig   `yaml:"counter"`
	Reconcile   *counter.ReconcileConfig `yaml:"reconcile"`
	Kafka       *kafka.KafkaConfig       `yaml:"kafka"`
	HTTP        *http.Config             `yaml:"http"`
}

// Parse implements Configurer
func (p *Config) Parse() error {
	if p.Counter == nil {
		p.Counter = &counter.CounterConfig{}
	}
	if p.Reconcile == nil {
		p.Reconcile = &counter.ReconcileConfig{}
	}
	if err := c.Parse(p); err != nil {
		return err
	}
	conf := p.Counter
	if p.DB == nil && (conf.Store == counter.StoreMySQL || (conf.Store == counter.StoreRedis && conf.Persist == counter.StoreMySQL)) {
		return errors.New("mysql counter store needs db config")
	}
	if p.Redis == nil && (conf.Store == counter.StoreRedis || conf.Dirty == counter.StoreRedis) {
		return errors.New("redis counter store needs redis config")
	}
	return nil
}

// loadConfig load the yaml config file,addon is prepended to the file content
func loadConfig(path, addon string) (*Config, error) {
	conf := &Config{}
	var files []string
	if path != "" {
		files = append(files, filepath.Base(path))
	}
	if err := c.LoadConfig(conf, addon, filepath.Dir(path), files...); err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	if err := conf.Parse(); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return conf, nil
}
