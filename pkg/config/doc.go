// Package config loads newswire configuration.
//
// Values are resolved in increasing order of precedence: built-in defaults,
// an optional .env file, the YAML file named by NEWSWIRE_CONFIG_FILE and
// finally environment variables.
//
// # Common Settings
//
//	NEWSWIRE_ENV="production"            # marks session cookies Secure
//	NEWSWIRE_PORT="8080"
//	NEWSWIRE_HEALTH_PORT="9090"
//	NEWSWIRE_DB_DRIVER="postgres"        # postgres or sqlite3
//	NEWSWIRE_POSTGRES_URL="postgres://localhost/newswire"
//	NEWSWIRE_SQLITE_PATH="newswire.db"
//	NEWSWIRE_REDIS_URL="redis://localhost:6379"
//	ANALYTICS_SALT="..."                 # falls back to a built-in value with a warning
//	NEWSWIRE_ANALYTICS_TIMEZONE="America/New_York"
//
// # Jobs
//
//	NEWSWIRE_JOB_PROMOTE_SCHEDULE="@every 1m"
//	NEWSWIRE_JOB_SESSION_CLEANUP_SCHEDULE="@hourly"
//	NEWSWIRE_RETENTION_ENABLED="true"
//	NEWSWIRE_RETENTION_MAX_AGE_DAYS="400"
//
// # YAML
//
//	server:
//	  environment: production
//	  port: "8080"
//	analytics:
//	  timezone: Europe/London
//	ingest:
//	  rate_limit_per_minute: 120
//
// Use Watcher to pick up edits to the YAML file without a restart.
package config
