package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server":
		return serverTemplate, nil
	case "client":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serverTemplate = `name = "edgerpcd"
http_addr = ":9400"
stream_addr = ":9401"
cors_origins = ["http://localhost:3000"]
progress = "strict"
debug = false
tracing = false
default_bucket_capacity = 10000
max_connections = 256
inbound_rate = 200.0
inbound_burst = 64

[buckets]
Entry = 1000

[session]
handshake_timeout = "5s"
write_timeout = "15s"
heartbeat_interval = "15s"
security_mode = "development"
auth_token = ""

[session.tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""
`

const clientTemplate = `target = "127.0.0.1:9401"
client_id = "edgerpcctl"
timeout = "10s"

[session]
connect_timeout = "5s"
max_attempts = 5
security_mode = "development"
auth_token = ""

[session.tls]
enabled = false
mutual = false
ca_file = ""
cert_file = ""
key_file = ""
server_name = ""
`
