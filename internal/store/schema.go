package store

const schema = `
CREATE TABLE IF NOT EXISTS api_profiles (
	id                 TEXT PRIMARY KEY,
	owner              TEXT NOT NULL,
	name               TEXT NOT NULL,
	base_url           TEXT NOT NULL,
	model              TEXT NOT NULL,
	encrypted_api_key  TEXT NOT NULL,
	key_preview        TEXT NOT NULL,
	temperature        REAL NOT NULL DEFAULT 0.7,
	is_embedding_model INTEGER NOT NULL DEFAULT 0,
	embedding_dim      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_api_profiles_owner ON api_profiles(owner);

CREATE TABLE IF NOT EXISTS personas (
	id                  TEXT PRIMARY KEY,
	owner               TEXT NOT NULL,
	handle              TEXT NOT NULL,
	display_name        TEXT NOT NULL,
	system_prompt       TEXT NOT NULL DEFAULT '',
	tone                TEXT NOT NULL DEFAULT '',
	proactivity         REAL NOT NULL DEFAULT 0.5,
	memory_window       INTEGER NOT NULL DEFAULT 10,
	max_agents_per_turn INTEGER NOT NULL DEFAULT 1,
	api_profile_id      TEXT NOT NULL,
	is_default          INTEGER NOT NULL DEFAULT 0,
	background_text     TEXT NOT NULL DEFAULT '',
	UNIQUE(owner, handle)
);
CREATE INDEX IF NOT EXISTS idx_personas_owner ON personas(owner);

CREATE TABLE IF NOT EXISTS sessions (
	id                 TEXT PRIMARY KEY,
	owner              TEXT NOT NULL,
	title              TEXT NOT NULL DEFAULT '',
	user_display_name  TEXT NOT NULL DEFAULT '',
	user_handle        TEXT NOT NULL DEFAULT '',
	user_persona       TEXT NOT NULL DEFAULT '',
	created_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	sender     TEXT NOT NULL,
	content    TEXT NOT NULL,
	position   INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(session_id, position)
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, position);
`
