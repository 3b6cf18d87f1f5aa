// Command rkiscraper scrapes the RKI COVID-19 case-count page on a schedule
// and serves the run log and stored snapshots over HTTP.
//
// Usage:
//
//	rkiscraper [-config path/to/config.yaml] [-once]
//
// Configuration is read from the optional YAML file, a .env file in the
// working directory and RKI_* environment variables. The legacy names
// APP_ENV, DB_HOST, DB_USER and DB_PASS are honored as fallbacks.
//
// With -once the pipeline runs a single time, the outcome is printed and the
// process exits non-zero when the run failed.
package main
