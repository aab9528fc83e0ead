package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"battery-bridge/logging"
	"battery-bridge/mqtt"
	"battery-bridge/serialport"
)

// Поддерживаемые источники данных батареи
const (
	providerVictron   = "victron"
	providerPylontech = "pylontech"
	providerJkBms     = "jkbms"
)

type Config struct {
	Battery struct {
		Provider   string        `mapstructure:"provider"`
		StaleAfter time.Duration `mapstructure:"stale_after"`
	} `mapstructure:"battery"`
	Serial serialport.Config `mapstructure:"serial"`
	CAN    struct {
		Interface string `mapstructure:"interface"`
	} `mapstructure:"can"`
	MQTT mqtt.Config `mapstructure:"mqtt"`
	HTTP struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"http"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	serialDefaults := serialport.DefaultConfig()
	mqttDefaults := mqtt.DefaultConfig()

	v.SetDefault("battery.provider", providerVictron)
	v.SetDefault("battery.stale_after", 60*time.Second)

	v.SetDefault("serial.device", serialDefaults.Device)
	v.SetDefault("serial.baud", serialDefaults.Baud)
	v.SetDefault("serial.read_timeout", serialDefaults.ReadTimeout)
	v.SetDefault("serial.reconnect_interval", serialDefaults.ReconnectInterval)

	v.SetDefault("can.interface", "can0")

	v.SetDefault("mqtt.broker", mqttDefaults.Broker)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", mqttDefaults.ClientID)
	v.SetDefault("mqtt.topic", mqttDefaults.Topic)
	v.SetDefault("mqtt.datapoints_topic", "")
	v.SetDefault("mqtt.qos", mqttDefaults.QoS)
	v.SetDefault("mqtt.retain", mqttDefaults.Retain)
	v.SetDefault("mqtt.keep_alive", mqttDefaults.KeepAlive)
	v.SetDefault("mqtt.connect_timeout", mqttDefaults.ConnectTimeout)
	v.SetDefault("mqtt.auto_reconnect", mqttDefaults.AutoReconnect)
	v.SetDefault("mqtt.publish_interval", mqttDefaults.PublishInterval)
	v.SetDefault("mqtt.full_publish_interval", mqttDefaults.FullPublishInterval)

	v.SetDefault("http.listen", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// loadConfig читает config.yaml из path (если задан) или из стандартных
// каталогов; переменные BATTERY_BRIDGE_* имеют приоритет над файлом
func loadConfig(v *viper.Viper, path string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("BATTERY_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/battery-bridge")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate проверяет согласованность настроек
func (c Config) Validate() error {
	switch c.Battery.Provider {
	case providerVictron:
		if c.Serial.Device == "" {
			return errors.New("serial.device is required for provider victron")
		}
		if c.Serial.Baud <= 0 {
			return fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud)
		}
	case providerPylontech:
		if c.CAN.Interface == "" {
			return errors.New("can.interface is required for provider pylontech")
		}
	case providerJkBms:
		if c.MQTT.Broker == "" || c.MQTT.DataPointsTopic == "" {
			return errors.New("mqtt.broker and mqtt.datapoints_topic are required for provider jkbms")
		}
	default:
		return fmt.Errorf("unknown battery.provider %q (expected %s, %s or %s)",
			c.Battery.Provider, providerVictron, providerPylontech, providerJkBms)
	}

	if c.Battery.StaleAfter <= 0 {
		return errors.New("battery.stale_after must be positive")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.Broker != "" && c.MQTT.PublishInterval <= 0 {
		return errors.New("mqtt.publish_interval must be positive")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
