package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		MySQL struct {
			DSN string `yaml:"dsn"` // Data Source Name
		} `yaml:"mysql"`
	} `yaml:"database"`

	JWT struct {
		Secret string `yaml:"secret"`
		Expire int    `yaml:"expire"` // 过期时间（小时）
	} `yaml:"jwt"`

	Redis struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Router struct {
		MaxAutoTurns         int `yaml:"max_auto_turns"`            // 聊天自动接续的轮数上限
		ResponderTimeoutSecs int `yaml:"responder_timeout_seconds"` // 单次应答器调用超时
	} `yaml:"router"`
}

// GlobalConfig 全局配置
var GlobalConfig = &Config{}

// Init 初始化配置
func Init() error {
	f, err := os.Open("config.yaml")
	if err != nil {
		// 如果配置文件不存在，使用默认配置
		log.Println("配置文件不存在，使用默认配置")
		GlobalConfig = &Config{}
		applyDefaults()
		return nil
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&GlobalConfig); err != nil {
		return err
	}

	applyDefaults()

	log.Printf("配置加载成功: Redis=%s:%d", GlobalConfig.Redis.Host, GlobalConfig.Redis.Port)
	return nil
}

// applyDefaults 为缺失的配置项补默认值
func applyDefaults() {
	if GlobalConfig.Server.Port == 0 {
		GlobalConfig.Server.Port = 8082
	}
	if GlobalConfig.Database.MySQL.DSN == "" {
		GlobalConfig.Database.MySQL.DSN = "root:123456@tcp(127.0.0.1:3306)/paia?charset=utf8mb4&parseTime=True&loc=Local"
	}
	if GlobalConfig.JWT.Secret == "" {
		GlobalConfig.JWT.Secret = "default_secret_key_for_development"
	}
	if GlobalConfig.JWT.Expire <= 0 {
		GlobalConfig.JWT.Expire = 24
	}
	if GlobalConfig.Redis.Host == "" {
		GlobalConfig.Redis.Host = "127.0.0.1"
	}
	if GlobalConfig.Redis.Port == 0 {
		GlobalConfig.Redis.Port = 6379
	}
	if GlobalConfig.Router.MaxAutoTurns <= 0 {
		GlobalConfig.Router.MaxAutoTurns = 8
	}
	if GlobalConfig.Router.ResponderTimeoutSecs <= 0 {
		GlobalConfig.Router.ResponderTimeoutSecs = 30
	}
}
