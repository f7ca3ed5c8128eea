// Package config loads the wsession configuration file.
//
// The file is wsession.json, wsession.yaml or wsession.yml. Durations are
// strings such as "30s" and ${VAR} or ${VAR:-default} references are
// replaced from the environment before parsing.
//
// # Configuration File Structure
//
//	server:
//	  addr: ":8080"
//	  path: /ws
//	  sessionTimeout: 5m
//	  maxSessions: 10000
//	  maxPendingMessages: 256
//	  resumePolicy: fresh
//	  allowedOrigins: ["https://app.example.com"]
//	  quality:
//	    minHeartbeatInterval: 5s
//	    maxHeartbeatInterval: 45s
//	  metrics:
//	    enabled: true
//	client:
//	  url: ws://localhost:8080/ws
//	  maxReconnectAttempts: 5
//	archive:
//	  enabled: true
//	  bucket: ${ARCHIVE_BUCKET}
//	  interval: 1m
//	log:
//	  level: info
//	  format: json
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    return err
//	}
//	srvCfg, err := cfg.ServerConfig(logger)
package config
