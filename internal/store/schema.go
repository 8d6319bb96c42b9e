package store

// Schema contains the SQL schema of the store.
const Schema = `
-- Connection configs (credentials stay in the runtime config, never here)
CREATE TABLE IF NOT EXISTS connections (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    user TEXT NOT NULL,
    host TEXT NOT NULL,
    port INTEGER NOT NULL,
    tls INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One row per finished (or failed) sync run
CREATE TABLE IF NOT EXISTS sync_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL,
    source TEXT NOT NULL,
    destination TEXT NOT NULL,
    state TEXT NOT NULL,
    folders_total INTEGER NOT NULL DEFAULT 0,
    folders_done INTEGER NOT NULL DEFAULT 0,
    messages_transferred INTEGER NOT NULL DEFAULT 0,
    message_errors INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Per-message security classifications
CREATE TABLE IF NOT EXISTS classifications (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL,
    message_uid INTEGER NOT NULL,
    sender_domain TEXT,
    esp TEXT,
    time_delta_ms INTEGER,
    open_relay INTEGER,
    tls_support INTEGER,
    valid_certificate INTEGER,
    recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_task_id ON sync_runs(task_id);
CREATE INDEX IF NOT EXISTS idx_classifications_task_id ON classifications(task_id);
CREATE INDEX IF NOT EXISTS idx_classifications_sender_domain ON classifications(sender_domain);
`
