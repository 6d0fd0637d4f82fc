// Package config loads the peerchat node configuration.
//
// A JSON file provides the base values:
//
//	{
//	  "node": {
//	    "username": "alice",
//	    "listen_addr": "0.0.0.0:7400",
//	    "api_addr": "127.0.0.1:7401",
//	    "identity_path": "data/identity.json"
//	  },
//	  "directory": {"url": "https://dir.example", "api_key": "..."},
//	  "timeouts": {"connect": "3s", "heartbeat_interval": 30},
//	  "log_level": "info"
//	}
//
// Every value can be overridden with a PEERCHAT_ environment variable, for
// example PEERCHAT_USERNAME or PEERCHAT_DIRECTORY_URL. A .env file in the
// working directory is loaded first. The identity passphrase is only taken from
// PEERCHAT_IDENTITY_PASSPHRASE.
package config
