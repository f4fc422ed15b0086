package sqlite

// Schema for the session state store. Timestamps are unix milliseconds.

const sessionsTableSQL = `
CREATE TABLE IF NOT EXISTS bot_sessions (
	id TEXT PRIMARY KEY,
	session_name TEXT NOT NULL,
	status TEXT NOT NULL,
	login_status TEXT NOT NULL DEFAULT 'not_started',
	total_checks INTEGER NOT NULL DEFAULT 0,
	total_accepted INTEGER NOT NULL DEFAULT 0,
	total_rejected INTEGER NOT NULL DEFAULT 0,
	generation INTEGER NOT NULL DEFAULT 0,
	start_time INTEGER,
	end_time INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

const configurationsTableSQL = `
CREATE TABLE IF NOT EXISTS bot_configurations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	check_interval_seconds REAL NOT NULL,
	quick_check_interval_seconds REAL NOT NULL,
	enable_quick_check INTEGER NOT NULL DEFAULT 0,
	results_report_interval_seconds REAL NOT NULL,
	rejected_report_interval_seconds REAL NOT NULL,
	enable_results_reporting INTEGER NOT NULL DEFAULT 1,
	enable_rejected_reporting INTEGER NOT NULL DEFAULT 1,
	max_accept_per_run INTEGER NOT NULL,
	job_type_filter TEXT NOT NULL,
	exclude_types TEXT NOT NULL,
	required_fields TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

const jobRecordsTableSQL = `
CREATE TABLE IF NOT EXISTS job_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES bot_sessions(id) ON DELETE CASCADE,
	ref TEXT NOT NULL,
	submitted TEXT,
	appt_date TEXT,
	appt_time TEXT,
	duration TEXT,
	language TEXT,
	status_text TEXT,
	job_type TEXT,
	detail_url TEXT,
	outcome TEXT NOT NULL,
	reason TEXT,
	scraped_at INTEGER,
	processed_at INTEGER NOT NULL
)`

const analyticsPeriodsTableSQL = `
CREATE TABLE IF NOT EXISTS analytics_periods (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	period_start INTEGER NOT NULL,
	period_end INTEGER NOT NULL,
	period_hours INTEGER NOT NULL,
	total_jobs INTEGER NOT NULL,
	accepted_jobs INTEGER NOT NULL,
	rejected_jobs INTEGER NOT NULL,
	skipped_jobs INTEGER NOT NULL,
	acceptance_rate REAL NOT NULL,
	most_common_language TEXT,
	peak_hour INTEGER,
	language_distribution TEXT NOT NULL,
	hourly_distribution TEXT NOT NULL,
	created_at INTEGER NOT NULL
)`
