// Package config resolves adbcore's runtime configuration: the ADB
// key-pair directory, handshake timeouts, ring buffer sizing, and log
// level. Layered the way the rest of the pack expects: defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

var v *viper.Viper

func init() {
	v = viper.New()

	v.SetDefault("adb.home", filepath.Join(xdg.Home, ".adbcore"))
	v.SetDefault("adb.connect_timeout_ms", 10000)
	v.SetDefault("adb.auth_signature_timeout_ms", 5000)
	v.SetDefault("adb.auth_pubkey_timeout_ms", 30000)
	v.SetDefault("adb.max_send_queue", 5000)
	v.SetDefault("adb.max_send_queue_bytes", 50*1024*1024)
	v.SetDefault("ringbuf.stream_capacity", 16<<20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.verbose", false)

	v.AutomaticEnv()
	v.BindEnv("adb.home", "ADBCORE_HOME")
	v.BindEnv("adb.connect_timeout_ms", "ADBCORE_CONNECT_TIMEOUT_MS")
	v.BindEnv("adb.auth_signature_timeout_ms", "ADBCORE_AUTH_SIGNATURE_TIMEOUT_MS")
	v.BindEnv("adb.auth_pubkey_timeout_ms", "ADBCORE_AUTH_PUBKEY_TIMEOUT_MS")
	v.BindEnv("adb.max_send_queue", "ADBCORE_MAX_SEND_QUEUE")
	v.BindEnv("adb.max_send_queue_bytes", "ADBCORE_MAX_SEND_QUEUE_BYTES")
	v.BindEnv("ringbuf.stream_capacity", "ADBCORE_RINGBUF_CAPACITY")
	v.BindEnv("log.level", "ADBCORE_LOG_LEVEL")
	v.BindEnv("log.verbose", "ADBCORE_VERBOSE")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	for _, path := range []string{".", "$HOME/.adbcore", "/etc/adbcore"} {
		v.AddConfigPath(os.ExpandEnv(path))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Sprintf("fatal error reading config file: %s", err))
		}
	}
}

// GetKeyDir returns the directory holding the ADB RSA key pair.
func GetKeyDir() string {
	return v.GetString("adb.home")
}

// ConnectTimeout is how long the session waits for the initial CNXN reply.
func ConnectTimeout() time.Duration {
	return time.Duration(v.GetInt("adb.connect_timeout_ms")) * time.Millisecond
}

// AuthSignatureTimeout is how long the session waits for an AUTH token
// after sending a signature.
func AuthSignatureTimeout() time.Duration {
	return time.Duration(v.GetInt("adb.auth_signature_timeout_ms")) * time.Millisecond
}

// AuthPubKeyTimeout is how long the session waits for CNXN after sending
// its RSA public key for on-device confirmation.
func AuthPubKeyTimeout() time.Duration {
	return time.Duration(v.GetInt("adb.auth_pubkey_timeout_ms")) * time.Millisecond
}

// MaxSendQueue is the maximum number of queued outbound messages before
// the sender starts dropping with a warning.
func MaxSendQueue() int {
	return v.GetInt("adb.max_send_queue")
}

// MaxSendQueueBytes is the approximate byte budget for the outbound queue.
func MaxSendQueueBytes() int {
	return v.GetInt("adb.max_send_queue_bytes")
}

// RingBufferCapacity is the default per-stream ring buffer size in bytes.
// Rounded up to a power of two by the ring buffer constructor.
func RingBufferCapacity() int {
	return v.GetInt("ringbuf.stream_capacity")
}

// LogLevel returns the configured slog level name.
func LogLevel() string {
	return v.GetString("log.level")
}

// Verbose reports whether debug-level logging was requested.
func Verbose() bool {
	return v.GetBool("log.verbose")
}
