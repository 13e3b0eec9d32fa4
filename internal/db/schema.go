package db

// Schema contains all the SQL statements for the notes database.
//
// The UNIQUE constraint on notes.title and the RESTRICT foreign key on
// notes.user_id are the authoritative guards for title uniqueness and for
// user deletion; the service-level checks only produce earlier errors.
const Schema = `
-- Users table: accounts that own notes
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    roles TEXT NOT NULL,  -- JSON array of role tags
    active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Notes table: ticket is assigned from the counters table at creation
CREATE TABLE IF NOT EXISTS notes (
    id TEXT PRIMARY KEY,
    ticket INTEGER NOT NULL UNIQUE,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE RESTRICT,
    title TEXT NOT NULL UNIQUE,
    text TEXT NOT NULL,
    completed INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_user_id ON notes(user_id);

-- Counters table: one row per sequence namespace, value is the last issued number
CREATE TABLE IF NOT EXISTS counters (
    namespace TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);
`
