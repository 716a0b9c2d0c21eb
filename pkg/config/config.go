package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	DB     DBConfig     `mapstructure:"db"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Chain  ChainConfig  `mapstructure:"chain"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Notify NotifyConfig `mapstructure:"notify"`
}

type AppConfig struct {
	Env         string `mapstructure:"env"`
	HttpPort    string `mapstructure:"http_port"`
	FrontendURL string `mapstructure:"frontend_url"` // 支付链接的前端基址
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

// ChainConfig 链上依赖配置.
// 设计说明: 合约地址只在启动时读取一次, Ledger Client 构造后不可变;
// 更换合约 = 重启 (替换注入的依赖), 避免配置热更与在途结算赛跑.
type ChainConfig struct {
	RpcUrl          string        `mapstructure:"rpc_url"`
	ChainID         int64         `mapstructure:"chain_id"`
	TokenAddress    string        `mapstructure:"token_address"`    // CPX ERC-20
	GatewayAddress  string        `mapstructure:"gateway_address"`  // PaymentGateway
	PlatformFeeBps  int64         `mapstructure:"platform_fee_bps"` // 基点, 100 = 1%
	Confirmations   uint64        `mapstructure:"confirmations"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`
	DefaultGasPrice string        `mapstructure:"default_gas_price"` // gwei
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type NotifyConfig struct {
	MQType string `mapstructure:"mq_type"` // "redis" or "kafka"
	Topic  string `mapstructure:"topic"`
}

var Global Config

func Init() {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yaml")   // REQUIRED if the config file does not have the extension in the name
	viper.AddConfigPath(".")      // optionally look for config in the working directory
	viper.AddConfigPath("./config")

	// 环境变量设置
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 设置默认值
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found, using defaults and environment variables")
		} else {
			log.Fatalf("Fatal error config file: %s \n", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	log.Printf("Configuration loaded successfully. Env: %s", Global.App.Env)
}

func setDefaults() {
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.http_port", "8080")
	viper.SetDefault("app.frontend_url", "http://localhost:3000")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.user", "payx_user")
	viper.SetDefault("db.password", "payx_password")
	viper.SetDefault("db.name", "payx_db")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})

	viper.SetDefault("chain.rpc_url", "http://localhost:7545")
	viper.SetDefault("chain.chain_id", 1337)
	viper.SetDefault("chain.platform_fee_bps", 100) // 1%, 与 PaymentGateway 部署参数一致
	viper.SetDefault("chain.confirmations", 3)
	viper.SetDefault("chain.confirm_timeout", 5*time.Minute)
	viper.SetDefault("chain.default_gas_price", "20")

	viper.SetDefault("auth.jwt_secret", "dev-secret-change-me")
	viper.SetDefault("auth.token_ttl", 24*time.Hour)

	viper.SetDefault("notify.mq_type", "redis")
	viper.SetDefault("notify.topic", "payx_events_settlement")
}
