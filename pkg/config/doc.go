// Package config loads settings for the SeDAS client and the bulk
// downloader from YAML files and from SEDAS_ environment variables.
//
//	username: alice
//	password: secret
//	output_dir: ./data
//	parallel: 4
//	poll_interval: 10s
//	retry:
//	  attempts: 3
//	  backoff: 2s
//
// File values are applied on top of Default, and LoadFromEnv overrides
// both. Client and Downloader build the configured components directly.
package config
